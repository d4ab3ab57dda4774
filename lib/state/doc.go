// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package state resolves divergent room state into a single snapshot.
//
// When a room's event DAG forks, each fork carries its own view of the
// state slots. The resolver merges those views: slots every fork
// agrees on pass through, and contested slots are settled by replaying
// the contested events (plus the difference between their auth chains)
// through the auth rules in a deterministic order. Two servers with
// the same events always converge on the same snapshot, regardless of
// arrival order.
//
// Resolution reads events through an EventSource and performs no
// writes. The bounded Cache memoizes resolved snapshots keyed by a
// fingerprint of the forward-extremity set, so repeated admissions on
// a stable frontier skip the replay entirely.
package state
