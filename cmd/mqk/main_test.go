package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	mqkerrors "github.com/riskkernel/mqk/internal/errors"
)

func TestExitForErrorMapsClosedKinds(t *testing.T) {
	assert.Equal(t, 0, exitForError(nil))
	assert.Equal(t, 1, exitForError(errors.New("no kind attached")))
	assert.Equal(t, 2, exitForError(mqkerrors.WithKind(mqkerrors.KindValidationError, errors.New("x"))))
	assert.Equal(t, 2, exitForError(mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, errors.New("x"))))
	assert.Equal(t, 3, exitForError(mqkerrors.WithKind(mqkerrors.KindPreconditionFailed, errors.New("reconcile-dirty: arm blocked: x"))))
	assert.Equal(t, 3, exitForError(mqkerrors.WithKind(mqkerrors.KindStateConflict, errors.New("x"))))
	assert.Equal(t, 3, exitForError(mqkerrors.WithKind(mqkerrors.KindReconcileDirty, errors.New("x"))))
	assert.Equal(t, 4, exitForError(mqkerrors.WithKind(mqkerrors.KindSecurityRefusal, errors.New("x"))))
	assert.Equal(t, 1, exitForError(mqkerrors.WithKind(mqkerrors.KindBrokerTransient, errors.New("x"))))
}

func TestCheckArmConfirmationRequiresShapeForLive(t *testing.T) {
	assert.NoError(t, checkArmConfirmation("ARM LIVE 1234 0.02"))
	assert.Error(t, checkArmConfirmation(""))
	assert.Error(t, checkArmConfirmation("ARM LIVE"))
	assert.Error(t, checkArmConfirmation("arm live 1234 0.02"))
}
