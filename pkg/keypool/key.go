package keypool

import (
	"crypto/sha256"
	"fmt"
	"time"

	"mercator-hq/charon/pkg/models"
)

// FamilyUsage accumulates token consumption for one model family on one key.
type FamilyUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`

	// LegacyTotal carries counts imported from deployments that tracked a
	// single undifferentiated total.
	LegacyTotal int64 `json:"legacy_total,omitempty"`
}

// Key is one pooled upstream credential. The zero value is not usable;
// construct keys through Pool.Add or the loaders.
//
// Key values returned from the pool are deep copies. Mutating a copy has no
// effect on pool state; use the Pool's mutation methods instead.
type Key struct {
	// Hash is the opaque external handle, derived by one-way hash of the
	// secret. All pool mutations address keys by hash.
	Hash string

	// Secret is the raw credential material, needed by the request signers.
	Secret string `json:"-"`

	Service models.Service

	// ModelFamilies is the set of families this credential may serve. It can
	// shrink over the credential's lifetime (model access loss, per-family
	// quota exhaustion) and is restored only by an explicit recheck.
	ModelFamilies []models.Family

	IsDisabled  bool
	IsRevoked   bool
	IsOverQuota bool

	PromptCount int64
	LastUsed    time.Time
	LastChecked time.Time

	RateLimitedAt    time.Time
	RateLimitedUntil time.Time

	TokenUsage map[models.Family]*FamilyUsage

	// OpenAI
	IsTrial        bool
	OrganizationID string

	// Anthropic
	Tier                string
	IsPozzed            bool
	AllowsMultimodality bool
	RequiresPreamble    bool

	// AWS and Google AI fine-grained model ids
	ModelIDs []string

	// AWSLoggingStatus records whether invocation logging could be confirmed
	// disabled on the account: "disabled", "enabled", or "unknown".
	AWSLoggingStatus string

	// Google AI tracks quota exhaustion per family rather than per key.
	OverQuotaFamilies []models.Family

	// GCP and Azure
	Region         string
	ProjectID      string
	ClientEmail    string
	PrivateKey     string `json:"-"`
	AzureResource  string
	AzureDeployID  string
}

// HashSecret derives the external handle for a credential secret.
func HashSecret(svc models.Service, secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%s-%x", svc, sum[:8])
}

// HasFamily reports whether the key is permitted to serve fam.
func (k *Key) HasFamily(fam models.Family) bool {
	for _, f := range k.ModelFamilies {
		if f == fam {
			return true
		}
	}
	return false
}

// familyOverQuota reports whether fam is quota-exhausted on this key
// (Google AI per-family accounting).
func (k *Key) familyOverQuota(fam models.Family) bool {
	for _, f := range k.OverQuotaFamilies {
		if f == fam {
			return true
		}
	}
	return false
}

// eligible reports whether the key may be handed out for fam at time now.
func (k *Key) eligible(fam models.Family, now time.Time) bool {
	if k.IsDisabled {
		return false
	}
	if !k.HasFamily(fam) || k.familyOverQuota(fam) {
		return false
	}
	return !now.Before(k.RateLimitedUntil)
}

// clone returns a deep copy of the key.
func (k *Key) clone() Key {
	c := *k
	c.ModelFamilies = append([]models.Family(nil), k.ModelFamilies...)
	c.ModelIDs = append([]string(nil), k.ModelIDs...)
	c.OverQuotaFamilies = append([]models.Family(nil), k.OverQuotaFamilies...)
	if k.TokenUsage != nil {
		c.TokenUsage = make(map[models.Family]*FamilyUsage, len(k.TokenUsage))
		for fam, u := range k.TokenUsage {
			uc := *u
			c.TokenUsage[fam] = &uc
		}
	}
	return c
}

// DisableReason explains why a key left rotation.
type DisableReason string

const (
	// ReasonQuota marks billing or quota exhaustion; the credential itself is
	// still valid.
	ReasonQuota DisableReason = "quota"

	// ReasonRevoked is terminal; the provider rejected the credential.
	ReasonRevoked DisableReason = "revoked"
)

// Patch is a field-wise merge applied by Pool.Update. Nil fields are left
// untouched. Applying the same patch twice has the same effect as applying
// it once.
type Patch struct {
	ModelFamilies       *[]models.Family
	ModelIDs            *[]string
	OverQuotaFamilies   *[]models.Family
	IsOverQuota         *bool
	Tier                *string
	IsTrial             *bool
	IsPozzed            *bool
	AllowsMultimodality *bool
	RequiresPreamble    *bool
	AWSLoggingStatus    *string
	OrganizationID      *string
	LastChecked         *time.Time
}

// apply merges the patch into the key.
func (p *Patch) apply(k *Key) {
	if p.ModelFamilies != nil {
		k.ModelFamilies = append([]models.Family(nil), *p.ModelFamilies...)
	}
	if p.ModelIDs != nil {
		k.ModelIDs = append([]string(nil), *p.ModelIDs...)
	}
	if p.OverQuotaFamilies != nil {
		k.OverQuotaFamilies = append([]models.Family(nil), *p.OverQuotaFamilies...)
	}
	if p.IsOverQuota != nil {
		k.IsOverQuota = *p.IsOverQuota
	}
	if p.Tier != nil {
		k.Tier = *p.Tier
	}
	if p.IsTrial != nil {
		k.IsTrial = *p.IsTrial
	}
	if p.IsPozzed != nil {
		k.IsPozzed = *p.IsPozzed
	}
	if p.AllowsMultimodality != nil {
		k.AllowsMultimodality = *p.AllowsMultimodality
	}
	if p.RequiresPreamble != nil {
		k.RequiresPreamble = *p.RequiresPreamble
	}
	if p.AWSLoggingStatus != nil {
		k.AWSLoggingStatus = *p.AWSLoggingStatus
	}
	if p.OrganizationID != nil {
		k.OrganizationID = *p.OrganizationID
	}
	if p.LastChecked != nil {
		k.LastChecked = *p.LastChecked
	}
}

// Bool, String, Families and Strings are small helpers for building patches.
func Bool(v bool) *bool                           { return &v }
func String(v string) *string                     { return &v }
func Families(v ...models.Family) *[]models.Family { return &v }
func Strings(v ...string) *[]string               { return &v }
