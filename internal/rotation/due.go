package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/credcore/pkg/models"
)

// Due is a credential whose rotation or reminder window has opened.
type Due struct {
	Credential  *models.Credential     `json:"credential"`
	Policy      *models.RotationPolicy `json:"policy"`
	LastRotated time.Time              `json:"last_rotated"`
	DueAt       time.Time              `json:"due_at"`
}

// DueForRotation lists credentials with an active policy where
// now - lastRotated >= RotationDays.
func (s *Scheduler) DueForRotation(ctx context.Context, now time.Time) ([]Due, error) {
	return s.due(ctx, func(p *models.RotationPolicy, last time.Time) (bool, time.Time) {
		return p.RotationDue(last, now), p.RotationDueAt(last)
	})
}

// DueForReminder lists credentials with an active policy where
// now - lastRotated >= RotationDays - ReminderDays.
func (s *Scheduler) DueForReminder(ctx context.Context, now time.Time) ([]Due, error) {
	return s.due(ctx, func(p *models.RotationPolicy, last time.Time) (bool, time.Time) {
		return p.ReminderDue(last, now), p.ReminderDueAt(last)
	})
}

func (s *Scheduler) due(ctx context.Context, match func(*models.RotationPolicy, time.Time) (bool, time.Time)) ([]Due, error) {
	creds, err := s.store.ListCredentialsWithRotationPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing credentials with rotation policy: %w", err)
	}
	policies := map[string]*models.RotationPolicy{}
	var out []Due
	for _, c := range creds {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		p, ok := policies[*c.RotationPolicyID]
		if !ok {
			p, err = s.store.GetRotationPolicy(ctx, *c.RotationPolicyID)
			if err != nil {
				return nil, fmt.Errorf("loading rotation policy %s: %w", *c.RotationPolicyID, err)
			}
			policies[p.ID] = p
		}
		if !p.IsActive {
			continue
		}
		last := c.LastRotation()
		if ok, at := match(p, last); ok {
			out = append(out, Due{Credential: c, Policy: p, LastRotated: last, DueAt: at})
		}
	}
	return out, nil
}

// SweepResult summarises one Sweep.
type SweepResult struct {
	Rotated []string          `json:"rotated"`
	Manual  []string          `json:"manual"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Sweep auto-rotates every due credential whose policy allows it and
// reports the ones that need a manual rotation. A failure on one credential
// does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time, actor string) (*SweepResult, error) {
	due, err := s.DueForRotation(ctx, now)
	if err != nil {
		return nil, err
	}
	res := &SweepResult{Failed: map[string]string{}}
	for _, d := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !d.Policy.AutoRotate || d.Policy.RequireApproval {
			res.Manual = append(res.Manual, d.Credential.ID)
			continue
		}
		_, err := s.AutoRotatePassword(ctx, d.Credential.ID, "automatic rotation sweep", actor)
		switch {
		case err == nil:
			res.Rotated = append(res.Rotated, d.Credential.ID)
		case errors.Is(err, ErrAutoRotateDisabled):
			res.Manual = append(res.Manual, d.Credential.ID)
		default:
			res.Failed[d.Credential.ID] = err.Error()
			log.Error().Err(err).Str("credential_id", d.Credential.ID).Msg("auto-rotation failed")
		}
	}
	return res, nil
}
