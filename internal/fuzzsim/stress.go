// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzsim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DriveN launches count independent targets from binPath concurrently and
// runs fn against each, returning the first error encountered (if any)
// after all have completed. Used by stress tests that want many short-lived
// fork-server lifetimes running at once, the scenario where pid reuse makes
// Target.id-based correlation matter.
func DriveN(ctx context.Context, binPath string, count int, opts Options, fn func(context.Context, *Target) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			target, err := Launch(binPath, opts)
			if err != nil {
				return fmt.Errorf("fuzzsim: launch: %w", err)
			}
			defer target.Close()
			return fn(ctx, target)
		})
	}
	return g.Wait()
}
