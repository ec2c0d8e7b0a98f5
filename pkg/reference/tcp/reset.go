// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tcp

import (
	"context"
	"os/exec"

	"github.com/bbfuzz/profuzz/pkg/log"
	"github.com/bbfuzz/profuzz/pkg/traits"
)

// DummyResetHandler does nothing beyond logging that it ran. It exists for
// targets that self-recover (a supervisor or container restart policy
// handles the actual respawn) and for tests; real deployments are expected
// to supply their own ResetHandler.
type DummyResetHandler struct{}

func (DummyResetHandler) Reset(ctx context.Context) error {
	log.Logf(0, "dummy reset handler triggered, but it does nothing")
	return nil
}

// ExecResetHandler restarts the target by running a configured external
// command and waiting for it to exit. Name and Args are passed straight to
// exec.CommandContext, so Name is resolved against PATH the same way a
// shell would resolve it.
type ExecResetHandler struct {
	Name string
	Args []string
}

// Reset runs the configured command to completion. A non-zero exit or a
// failure to start is reported as an IO error; the caller treats any error
// here as fatal to the run, per traits.ResetHandler's contract.
func (h ExecResetHandler) Reset(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, h.Name, h.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return traits.IO("reset command "+h.Name+" failed: "+string(out), err)
	}
	log.Logf(1, "reset command %s %v completed", h.Name, h.Args)
	return nil
}
