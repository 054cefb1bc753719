package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unclebandit/outreach-funnel/internal/model"
	"github.com/unclebandit/outreach-funnel/internal/repository"
)

type seedFile struct {
	Members []struct {
		WorkspaceID string `yaml:"workspace_id"`
		UserID      string `yaml:"user_id"`
	} `yaml:"members"`
	Accounts  []seedAccount  `yaml:"accounts"`
	Campaigns []seedCampaign `yaml:"campaigns"`
}

type seedAccount struct {
	ID              string  `yaml:"id"`
	WorkspaceID     string  `yaml:"workspace_id"`
	Email           string  `yaml:"email"`
	DailySendLimit  int     `yaml:"daily_send_limit"`
	HourlySendLimit int     `yaml:"hourly_send_limit"`
	ReputationScore float64 `yaml:"reputation_score"`
}

type seedCampaign struct {
	ID               string         `yaml:"id"`
	WorkspaceID      string         `yaml:"workspace_id"`
	Name             string         `yaml:"name"`
	Type             string         `yaml:"type"`
	Status           string         `yaml:"status"`
	SendingAccountID string         `yaml:"sending_account_id"`
	Prospects        []seedProspect `yaml:"prospects"`
}

type seedProspect struct {
	FirstName   string     `yaml:"first_name"`
	LastName    string     `yaml:"last_name"`
	Email       string     `yaml:"email"`
	LinkedInID  string     `yaml:"linkedin_id"`
	Status      string     `yaml:"status"`
	ContactedAt *time.Time `yaml:"contacted_at"`
}

type seedCounts struct {
	campaigns, prospects int
}

func loadSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &f, nil
}

// apply inserts everything through the repositories so ids, timestamps and
// defaults match what the services write.
func (f *seedFile) apply(ctx context.Context, conn *sql.DB) (seedCounts, error) {
	var n seedCounts
	members := &repository.WorkspaceRepository{DB: conn}
	accounts := &repository.AccountRepository{DB: conn}
	campaigns := &repository.CampaignRepository{DB: conn}
	prospects := &repository.ProspectRepository{DB: conn}

	for _, m := range f.Members {
		if err := members.AddMember(ctx, m.WorkspaceID, m.UserID); err != nil {
			return n, err
		}
	}
	for _, sa := range f.Accounts {
		a := &model.SendingAccount{
			ID:              sa.ID,
			WorkspaceID:     sa.WorkspaceID,
			Email:           sa.Email,
			DailySendLimit:  sa.DailySendLimit,
			HourlySendLimit: sa.HourlySendLimit,
			ReputationScore: sa.ReputationScore,
		}
		if err := accounts.Create(ctx, a); err != nil {
			return n, err
		}
	}

	for _, sc := range f.Campaigns {
		c := &model.Campaign{
			ID:          sc.ID,
			WorkspaceID: sc.WorkspaceID,
			Name:        sc.Name,
			Type:        model.CampaignType(sc.Type),
			Status:      model.CampaignStatus(sc.Status),
		}
		if _, ok := c.Type.Channel(); !ok {
			return n, fmt.Errorf("campaign %q: unknown type %q", sc.Name, sc.Type)
		}
		if sc.SendingAccountID != "" {
			id := sc.SendingAccountID
			c.SendingAccountID = &id
		}
		if c.Status == model.CampaignActive {
			now := model.Timestamp(time.Now())
			c.ActivatedAt = &now
		}
		if err := campaigns.Create(ctx, c); err != nil {
			return n, err
		}
		n.campaigns++

		for _, sp := range sc.Prospects {
			p := &model.Prospect{
				CampaignID: c.ID,
				FirstName:  sp.FirstName,
				LastName:   sp.LastName,
				Email:      sp.Email,
				LinkedInID: sp.LinkedInID,
			}
			if sp.Status != "" {
				status, ok := model.ParseFunnelStatus(sp.Status)
				if !ok {
					return n, fmt.Errorf("prospect %s %s: unknown status %q", sp.FirstName, sp.LastName, sp.Status)
				}
				p.Status = status
			}
			if sp.ContactedAt != nil {
				at := model.Timestamp(*sp.ContactedAt)
				p.ContactedAt = &at
			}
			if err := prospects.Create(ctx, p); err != nil {
				return n, err
			}
			n.prospects++
		}
	}
	return n, nil
}
