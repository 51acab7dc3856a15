// Package svnnerr defines the sentinel errors used across the finality
// engine, grouped by the kind of failure they represent so callers can
// branch on Kind() instead of string-matching error text.
package svnnerr

import "errors"

// Kind classifies a finality-engine error for metrics and logging.
type Kind string

const (
	KindStructural    Kind = "structural"
	KindLinkage       Kind = "linkage"
	KindAuthorization Kind = "authorization"
	KindSafety        Kind = "safety"
	KindLiveness      Kind = "liveness"
	KindIntegrity     Kind = "integrity"
	KindSubjective    Kind = "subjective"
)

// Error wraps a sentinel with its kind, so errors.Is still matches the
// sentinel while callers can also recover the kind via errors.As.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

func newKinded(kind Kind, text string) *Error {
	return &Error{kind: kind, err: errors.New(text)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, otherwise KindSubjective.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindSubjective
}

// Structural errors: malformed data that no amount of context makes valid.
var (
	ErrMalformedHeader       = newKinded(KindStructural, "malformed block header")
	ErrUnknownExtensionKind  = newKinded(KindStructural, "unknown header extension kind")
	ErrDuplicateExtensionKind = newKinded(KindStructural, "duplicate header extension kind")
	ErrInvalidPolicyDigest   = newKinded(KindStructural, "invalid finalizer policy digest")
)

// Linkage errors: a block cannot be connected into the fork database.
var (
	ErrUnlinkableBlock  = newKinded(KindLinkage, "unlinkable block: parent not known")
	ErrDuplicateBlockID = newKinded(KindLinkage, "block id already present in fork database")
	ErrBlockNotFound    = newKinded(KindLinkage, "block not found in fork database")
	ErrCannotOrphanHead = newKinded(KindLinkage, "removal would orphan the current head")
	ErrRootNotAncestor  = newKinded(KindLinkage, "candidate root is not a descendant of the current root")
)

// Authorization errors: signer is not entitled to act.
var (
	ErrUnknownFinalizer   = newKinded(KindAuthorization, "finalizer not present in active policy")
	ErrInsufficientWeight = newKinded(KindAuthorization, "aggregate weight below quorum threshold")
)

// Safety errors: a vote or action would violate a finalizer's safety
// invariants (never sign two conflicting things for the same slot).
var (
	ErrViolatesLockedBranch  = newKinded(KindSafety, "vote does not extend the locked branch")
	ErrStaleVoteBlockRef     = newKinded(KindSafety, "vote targets a block not later than the last vote")
	ErrSafetyStateCorrupted  = newKinded(KindSafety, "finalizer safety state file is corrupted")
	ErrSafetyStatePersistFailed = newKinded(KindSafety, "failed to durably persist finalizer safety state")
)

// Liveness errors: a vote cannot be cast without breaking the liveness
// rule, independent of safety.
var ErrViolatesLivenessRule = newKinded(KindLiveness, "vote would violate the liveness rule")

// Integrity errors: a cryptographic check failed.
var (
	ErrInvalidSignature       = newKinded(KindIntegrity, "signature does not verify")
	ErrInvalidSignatureEncoding = newKinded(KindIntegrity, "signature has invalid encoding")
	ErrInvalidPublicKeyEncoding = newKinded(KindIntegrity, "public key has invalid encoding")
	ErrSubgroupCheckFailed    = newKinded(KindIntegrity, "point failed subgroup membership check")
)

// Subjective errors: depend on local state/timing rather than a fixed
// protocol rule (e.g. duplicate vote already tallied, request superseded).
var (
	ErrDuplicateVote   = newKinded(KindSubjective, "finalizer already voted for this block")
	ErrStaleRequest    = newKinded(KindSubjective, "request superseded by a later one")
	ErrNotYetFinalized = newKinded(KindSubjective, "block is not yet irreversible")
)
