package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unclebandit/outreach-funnel/internal/config"
)

func TestWebhookTokenRequiredOutsideSqlite(t *testing.T) {
	assert.Error(t, checkWebhookAuth(config.Config{DatabaseDriver: "postgres"}))
	assert.NoError(t, checkWebhookAuth(config.Config{DatabaseDriver: "postgres", WebhookToken: "s3cret"}))
	assert.NoError(t, checkWebhookAuth(config.Config{DatabaseDriver: "sqlite"}))
}
