package ingestion

import (
	"strings"

	errorsmod "cosmossdk.io/errors"

	"VAMMLedger/internal/transition"
	"VAMMLedger/internal/types"
)

// BatchSubjectPrefix is the root of every inbound subject:
// vamm.batches.{admin,user,keeper,oracle}.>
const BatchSubjectPrefix = "vamm.batches"

// SubjectCategory extracts the category token of an inbound subject.
func SubjectCategory(subject string) (transition.Category, error) {
	rest, ok := strings.CutPrefix(subject, BatchSubjectPrefix+".")
	if !ok {
		return 0, errorsmod.Wrapf(types.ErrInvalidParameter, "subject %q is outside %s", subject, BatchSubjectPrefix)
	}
	token, _, _ := strings.Cut(rest, ".")
	return transition.ParseCategory(token)
}

// ParseMessage decodes an inbound batch and checks that the subject it
// arrived on matches the category of every instruction in it.
func ParseMessage(subject string, data []byte) (*transition.Batch, error) {
	want, err := SubjectCategory(subject)
	if err != nil {
		return nil, err
	}
	b, err := transition.Parse(data)
	if err != nil {
		return nil, err
	}
	got, err := b.Category()
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, errorsmod.Wrapf(types.ErrInvalidParameter, "%s batch on %s subject %q", got, want, subject)
	}
	return b, nil
}

// BatchSubject is the subject a producer publishes a batch of category c on.
func BatchSubject(c transition.Category, signer string) string {
	return BatchSubjectPrefix + "." + c.String() + "." + signer
}
