package bonsai

import "errors"

// ErrMerge is returned by Merge when the transactional forest's created_at
// is older than the base forest's current tip.
var ErrMerge = errors.New("bonsai: transactional forest is older than current tip")
