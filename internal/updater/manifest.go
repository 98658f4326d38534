// Package updater downloads and installs server versions while
// preserving worlds and configuration.
package updater

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bedrockmgr/bedrock-server-manager/internal/apperr"
	"github.com/bedrockmgr/bedrock-server-manager/internal/store"
)

// Release is one downloadable server build.
type Release struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

// Manifest lists the current builds per channel.
type Manifest struct {
	Latest  Release `json:"latest"`
	Preview Release `json:"preview"`
}

// FetchManifest downloads and decodes the version manifest.
func FetchManifest(client *http.Client, url string) (*Manifest, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch version manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("version manifest returned %s", resp.Status)
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, apperr.Wrap(apperr.ErrConfigParse, "malformed version manifest: %v", err)
	}
	return &manifest, nil
}

// Resolve maps an instance's target version policy onto a concrete
// release. Pinned versions must match one of the published channels;
// this manager does not keep a historical archive.
func (m *Manifest) Resolve(target string) (Release, error) {
	switch strings.ToUpper(strings.TrimSpace(target)) {
	case "", store.TargetLatest:
		return m.Latest, nil
	case store.TargetPreview:
		return m.Preview, nil
	}
	if target == m.Latest.Version {
		return m.Latest, nil
	}
	if target == m.Preview.Version {
		return m.Preview, nil
	}
	return Release{}, apperr.Wrap(apperr.ErrUserInput, "pinned version %s is not published", target)
}
