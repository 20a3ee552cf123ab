package discovery

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dedup"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/stage"
	"github.com/sells-group/outreach-cli/internal/store"
)

// ManualInput describes a prospect entered by an operator. Either Website
// or Platform plus Username identifies it.
type ManualInput struct {
	Website  string   `json:"website,omitempty" validate:"required_without=Username"`
	Platform string   `json:"platform,omitempty" validate:"omitempty,oneof=linkedin instagram twitter youtube tiktok"`
	Username string   `json:"username,omitempty" validate:"required_with=Platform"`
	Name     string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty" validate:"omitempty,email"`
	Category string   `json:"category,omitempty"`
	Location string   `json:"location,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

var manualValidate = validator.New()

// ManualProspect validates in and builds the prospect row it describes.
// The email, if any, is applied separately through the stage machine.
func ManualProspect(in ManualInput) (model.Prospect, error) {
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	if err := manualValidate.Struct(in); err != nil {
		return model.Prospect{}, eris.Wrap(err, "discovery: manual prospect")
	}
	if in.Username != "" && in.Platform == "" {
		return model.Prospect{}, eris.New("discovery: manual prospect: username needs a platform")
	}

	var p model.Prospect
	if in.Username != "" {
		key := dedup.SocialKey(in.Platform, in.Username)
		p = model.NewProspect(model.SourceSocial, key)
		p.Platform = in.Platform
		p.Username = strings.TrimPrefix(key, p.Platform+":")
		p.Website = strings.TrimSpace(in.Website)
	} else {
		domain, err := dedup.DomainKey(in.Website)
		if err != nil {
			return model.Prospect{}, eris.Wrap(err, "discovery: manual prospect")
		}
		p = model.NewProspect(model.SourceWebsite, domain)
		p.Domain = domain
		p.Website = "https://" + domain
	}
	p.Name = strings.TrimSpace(in.Name)
	p.Category = strings.TrimSpace(in.Category)
	p.Location = strings.TrimSpace(in.Location)
	p.Keywords = in.Keywords
	p.IsManual = true
	p.DiscoveredBy = "manual"
	return p, nil
}

type intakeStore interface {
	InsertProspect(ctx context.Context, p *model.Prospect) (bool, error)
}

// Intake adds operator-entered prospects.
type Intake struct {
	Store   intakeStore
	Machine *stage.Machine
}

// Add inserts a manual prospect and records its email as provided. It
// returns store.ErrDuplicate when the natural key is already taken.
func (i *Intake) Add(ctx context.Context, in ManualInput) (*model.Prospect, error) {
	p, err := ManualProspect(in)
	if err != nil {
		return nil, err
	}
	inserted, err := i.Store.InsertProspect(ctx, &p)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, eris.Wrapf(store.ErrDuplicate, "%s", p.NaturalKey)
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return &p, nil
	}
	confidence := 1.0
	res, err := i.Machine.Apply(ctx, p.ID, stage.Transition{
		Event:      stage.EmailProvided,
		Email:      email,
		Confidence: &confidence,
	})
	if err != nil {
		zap.L().Warn("discovery: manual prospect email not recorded",
			zap.String("prospect_id", p.ID),
			zap.Error(err),
		)
		return nil, eris.Wrapf(err, "discovery: record email for %s", p.NaturalKey)
	}
	return &res.Prospect, nil
}
