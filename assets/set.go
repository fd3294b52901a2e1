package assets

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/storefront-io/go-assetkit/media"
)

// AssetSet is the ordered collection of assets owned by one form.
// A non-empty set has exactly one primary asset, URLs are unique and the
// size never exceeds the configured maximum. Order is display order.
type AssetSet struct {
	assets []media.Asset
	max    int
}

func newAssetSet(max int) *AssetSet {
	return &AssetSet{max: max}
}

// load seeds the set from persisted state. Duplicate URLs are dropped,
// assets past the maximum are truncated and the primary is re-established.
func (s *AssetSet) load(seed []media.Asset, logger log.Logger) {
	s.assets = nil

	seen := map[string]bool{}
	for _, asset := range seed {
		if asset.URL == "" {
			logger.Warnf("Skipping stored asset without URL (%s)", asset.SourceFileName)
			continue
		}
		if seen[asset.URL] {
			logger.Warnf("Skipping duplicate stored asset: %s", asset.URL)
			continue
		}
		seen[asset.URL] = true
		s.assets = append(s.assets, asset)
	}

	if len(s.assets) > s.max {
		logger.Warnf("%d stored assets exceed the limit of %d, keeping the first %d", len(s.assets), s.max, s.max)
		s.assets = s.assets[:s.max]
	}

	s.ensurePrimary()
}

// Len returns the number of held assets.
func (s *AssetSet) Len() int {
	return len(s.assets)
}

// Max returns the capacity of the set.
func (s *AssetSet) Max() int {
	return s.max
}

// Assets returns a copy of the held assets in display order.
func (s *AssetSet) Assets() []media.Asset {
	return append([]media.Asset(nil), s.assets...)
}

// Primary returns the primary asset of a non-empty set.
func (s *AssetSet) Primary() (media.Asset, bool) {
	for _, asset := range s.assets {
		if asset.IsPrimary {
			return asset, true
		}
	}
	return media.Asset{}, false
}

// IndexOf returns the position of the asset with the given URL, or -1.
func (s *AssetSet) IndexOf(url string) int {
	for i, asset := range s.assets {
		if asset.URL == url {
			return i
		}
	}
	return -1
}

func (s *AssetSet) names() []string {
	names := make([]string, 0, len(s.assets))
	for _, asset := range s.assets {
		if asset.SourceFileName != "" {
			names = append(names, asset.SourceFileName)
		}
	}
	return names
}

// rejectedAsset is an uploaded asset that could not enter the set.
// Orphans are not referenced by any held asset and can be deleted remotely.
type rejectedAsset struct {
	asset  media.Asset
	reason string
	orphan bool
}

// append adds uploaded assets at the end, re-checking URL uniqueness and capacity.
func (s *AssetSet) append(uploaded []media.Asset) ([]media.Asset, []rejectedAsset) {
	var added []media.Asset
	var rejected []rejectedAsset

	for _, asset := range uploaded {
		asset.IsPrimary = false
		switch {
		case s.IndexOf(asset.URL) >= 0:
			rejected = append(rejected, rejectedAsset{
				asset:  asset,
				reason: fmt.Sprintf("%s is already in the set", asset.SourceFileName),
			})
		case len(s.assets) >= s.max:
			rejected = append(rejected, rejectedAsset{
				asset:  asset,
				reason: fmt.Sprintf("%s was skipped: at most %d image(s) can be added", asset.SourceFileName, s.max),
				orphan: true,
			})
		default:
			s.assets = append(s.assets, asset)
			added = append(added, asset)
		}
	}

	s.ensurePrimary()
	return s.withFlags(added), rejected
}

// replace swaps the held assets for the uploaded ones and returns the
// previous assets that are no longer referenced.
func (s *AssetSet) replace(uploaded []media.Asset) ([]media.Asset, []media.Asset, []rejectedAsset) {
	previous := s.assets
	s.assets = nil

	added, rejected := s.append(uploaded)
	if len(added) == 0 {
		s.assets = previous
		s.ensurePrimary()
		return nil, nil, rejected
	}

	var stale []media.Asset
	for _, asset := range previous {
		if s.IndexOf(asset.URL) < 0 {
			stale = append(stale, asset)
		}
	}
	return added, stale, rejected
}

func (s *AssetSet) remove(url string) (media.Asset, error) {
	i := s.IndexOf(url)
	if i < 0 {
		return media.Asset{}, &NotFoundError{URL: url}
	}

	removed := s.assets[i]
	s.assets = append(s.assets[:i:i], s.assets[i+1:]...)
	s.ensurePrimary()
	return removed, nil
}

func (s *AssetSet) setPrimary(url string) error {
	i := s.IndexOf(url)
	if i < 0 {
		return &NotFoundError{URL: url}
	}

	for j := range s.assets {
		s.assets[j].IsPrimary = j == i
	}
	return nil
}

// reorder moves the asset at from to to, shifting the assets in between.
func (s *AssetSet) reorder(from, to int) error {
	n := len(s.assets)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: move %d to %d in a set of %d", ErrIndexOutOfRange, from, to, n)
	}
	if from == to {
		return nil
	}

	moved := s.assets[from]
	if from < to {
		copy(s.assets[from:to], s.assets[from+1:to+1])
	} else {
		copy(s.assets[to+1:from+1], s.assets[to:from])
	}
	s.assets[to] = moved
	return nil
}

// ensurePrimary keeps the first flagged asset primary, or promotes index 0
// when none is flagged.
func (s *AssetSet) ensurePrimary() {
	primary := -1
	for i := range s.assets {
		if s.assets[i].IsPrimary && primary < 0 {
			primary = i
			continue
		}
		s.assets[i].IsPrimary = false
	}
	if primary < 0 && len(s.assets) > 0 {
		s.assets[0].IsPrimary = true
	}
}

// withFlags returns the given assets with their current primary flag.
func (s *AssetSet) withFlags(assets []media.Asset) []media.Asset {
	if len(assets) == 0 {
		return nil
	}
	out := make([]media.Asset, len(assets))
	for i, asset := range assets {
		if j := s.IndexOf(asset.URL); j >= 0 {
			asset = s.assets[j]
		}
		out[i] = asset
	}
	return out
}
