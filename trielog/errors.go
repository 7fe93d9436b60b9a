package trielog

import "errors"

// ErrNoPersistentBackend is returned when a snapshot/transaction/revert
// operation is attempted against a backend that does not implement
// db.PersistentBackend.
var ErrNoPersistentBackend = errors.New("trielog: backend does not support snapshots")

// ErrTransaction is returned when a transactional fork cannot be
// constructed because an intermediate commit's change log has been
// pruned.
var ErrTransaction = errors.New("trielog: missing intermediate change log")

// ErrLogPruned is returned by Changes when the requested commit id's log
// has already been pruned past the retention bound.
var ErrLogPruned = errors.New("trielog: change log pruned")

// ErrGoTo is returned by RevertTo when the requested commit id is not
// present in the retained log ring.
var ErrGoTo = errors.New("trielog: unknown or pruned commit id")
