/*
Copyright 2022-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package coordinator

import (
	"errors"
	"fmt"
)

// Stage names the activation coordinator's state-machine states (§4.F).
type Stage string

const (
	StageDistribute        Stage = "DISTRIBUTE"
	StageLock              Stage = "LOCK"
	StageTransferSnapshots Stage = "TRANSFER_SNAPSHOTS"
	StageDeactivate        Stage = "DEACTIVATE"
	StageActivate          Stage = "ACTIVATE"
	StageSetProfiles       Stage = "SET_PROFILES"
	StageUnlock            Stage = "UNLOCK"
	StageCommit            Stage = "COMMIT"
)

var (
	// ErrStageFailed is the sentinel wrapped by StageError.
	ErrStageFailed = errors.New("deployment stage failed")

	// ErrLockConflict is raised when an agent refuses to lock a target.
	ErrLockConflict = errors.New("lock conflict")

	// ErrPartialRollback names the case where rollback itself had failures,
	// leaving the fleet in an indeterminate state (§7). Deploy logs each
	// failed rollback step and does not return this sentinel; its error
	// names the stage that triggered the rollback.
	ErrPartialRollback = errors.New("partial rollback failure")
)

// StageError reports which stage of the deployment transaction failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return errors.Join(ErrStageFailed, e.Err)
}

// LockConflictError names the target whose lock was refused.
type LockConflictError struct {
	Target string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("target %s refused lock", e.Target)
}

func (e *LockConflictError) Unwrap() error {
	return ErrLockConflict
}
