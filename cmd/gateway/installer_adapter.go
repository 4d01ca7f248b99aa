package main

import (
	"context"

	"github.com/stratecode/triage-sub002/internal/bus"
	"github.com/stratecode/triage-sub002/internal/oauth"
	"github.com/stratecode/triage-sub002/internal/store"
)

// installerAdapter narrows *store.Store to oauth.Installer: the store's own
// UpdateFields carries Metadata/IsActive that the OAuth Flow never touches,
// so this adapter translates oauth.UpdateFields (access/refresh token only)
// into the store's wider shape rather than widening oauth.Installer itself.
type installerAdapter struct {
	store *store.Store
}

func (a *installerAdapter) Create(ctx context.Context, inst bus.Installation) (*bus.Installation, error) {
	return a.store.Create(ctx, inst)
}

func (a *installerAdapter) Update(ctx context.Context, pluginName, channelID string, fields oauth.UpdateFields) (*bus.Installation, error) {
	return a.store.Update(ctx, pluginName, channelID, store.UpdateFields{
		AccessToken:  fields.AccessToken,
		RefreshToken: fields.RefreshToken,
	})
}
