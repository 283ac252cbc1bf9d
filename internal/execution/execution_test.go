package execution

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, market.ET)
}

func TestBucketAt(t *testing.T) {
	tests := []struct {
		h, m int
		want Bucket
	}{
		{9, 31, BucketOpen},
		{10, 45, BucketOpen},
		{10, 46, BucketMidday},
		{12, 30, BucketMidday},
		{12, 31, BucketLate},
		{14, 30, BucketLate},
		{14, 31, BucketClose},
		{15, 59, BucketClose},
	}
	for _, tt := range tests {
		t.Run(at(tt.h, tt.m).Format("15:04"), func(t *testing.T) {
			assert.Equal(t, tt.want, BucketAt(at(tt.h, tt.m)))
		})
	}
}

func TestSlippage(t *testing.T) {
	s := DefaultSettings()
	narrow, wide := 30.0, 60.0

	assert.InDelta(t, 0.15, s.Slippage(&narrow, at(11, 0)), 1e-9)
	assert.InDelta(t, 0.20, s.Slippage(&wide, at(11, 0)), 1e-9)
	assert.InDelta(t, 0.20, s.Slippage(nil, at(11, 0)), 1e-9)
	assert.InDelta(t, 0.15*1.2, s.Slippage(&narrow, at(10, 0)), 1e-9)
	assert.InDelta(t, 0.20*1.3, s.Slippage(&wide, at(15, 0)), 1e-9)
	assert.InDelta(t, 0.10*1.15, s.DebitSlippage(&narrow, at(13, 0)), 1e-9)

	s.Enabled = false
	assert.Zero(t, s.Slippage(&narrow, at(11, 0)))
	assert.Zero(t, s.DebitSlippage(&narrow, at(11, 0)))
}

func TestMultiplierMissingBucket(t *testing.T) {
	s := DefaultSettings()
	delete(s.BucketMultipliers, BucketLate)
	assert.Equal(t, 1.0, s.Multiplier(BucketLate))

	s.BucketMultipliers[BucketOpen] = 9
	assert.Equal(t, 2.5, s.Multiplier(BucketOpen))
}

func TestCreditAdjust(t *testing.T) {
	s := DefaultSettings()
	width := 40.0

	t.Run("condor", func(t *testing.T) {
		c := &strategy.Candidate{Kind: strategy.KindCondor, SpreadType: strategy.IronCondor, Width: &width, Credit: 1.50}
		adj := s.CreditAdjust(c, at(11, 0))
		require.NotNil(t, adj.Credit)
		assert.InDelta(t, 1.35, *adj.Credit, 1e-9)
		assert.InDelta(t, 1.20, *adj.Threshold, 1e-9)
		assert.Equal(t, BucketMidday, adj.Bucket)
		assert.True(t, adj.Clears())
	})

	t.Run("directional uses five percent", func(t *testing.T) {
		c := &strategy.Candidate{Kind: strategy.KindDirectional, SpreadType: strategy.BullPutSpread, Width: &width, Credit: 2.10}
		adj := s.CreditAdjust(c, at(13, 0))
		assert.InDelta(t, 2.0, *adj.Threshold, 1e-9)
		assert.InDelta(t, 2.10-0.15*1.15, *adj.Credit, 1e-9)
		assert.False(t, adj.Clears())
	})

	t.Run("no candidate", func(t *testing.T) {
		adj := s.CreditAdjust(nil, at(13, 0))
		assert.Nil(t, adj.Credit)
		assert.Nil(t, adj.Threshold)
		assert.Zero(t, adj.Slippage)
		assert.Equal(t, BucketMidday, adj.Bucket)
	})

	t.Run("debit candidate", func(t *testing.T) {
		c := &strategy.Candidate{Kind: strategy.KindConvex, SpreadType: strategy.CallDebitSpread, Width: &width, Debit: 1}
		assert.Nil(t, s.CreditAdjust(c, at(13, 0)).Credit)
	})
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		assert.Equal(t, DefaultSettings(), LoadSettings(filepath.Join(dir, "nope.json")))
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		assert.Equal(t, DefaultSettings(), LoadSettings(path))
	})

	t.Run("clamps and tolerates wrong types", func(t *testing.T) {
		path := filepath.Join(dir, "exec.json")
		doc := `{
			"enabled": "yes",
			"narrowWidthCutoff": 500,
			"creditOffsetNarrow": 0,
			"creditOffsetWide": "wide",
			"markImpactPct": 0.9,
			"openBucketMultiplier": 3,
			"closeBucketMultiplier": 2.4,
			"lateBucketMultiplier": 0.1
		}`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		s := LoadSettings(path)
		assert.True(t, s.Enabled)
		assert.Equal(t, 150.0, s.NarrowWidthCutoff)
		assert.Equal(t, 0.01, s.CreditOffsetNarrow)
		assert.Equal(t, 0.20, s.CreditOffsetWide)
		assert.Equal(t, 0.5, s.MarkImpactPct)
		assert.Equal(t, 2.0, s.BucketMultipliers[BucketOpen])
		assert.Equal(t, 2.4, s.BucketMultipliers[BucketClose])
		assert.Equal(t, 0.5, s.BucketMultipliers[BucketLate])
		assert.Equal(t, 1.0, s.BucketMultipliers[BucketMidday])
	})

	t.Run("disable", func(t *testing.T) {
		s, err := ParseSettings([]byte(`{"enabled": false}`))
		require.NoError(t, err)
		assert.False(t, s.Enabled)
	})
}
