package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/KevinKickass/OpenSimModule/internal/amm"
	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	cause := errors.New("broken pipe")
	err := fmt.Errorf("failed to save: %w", NewError(KindWrite, "write", amm.TopicModuleConfiguration, cause))

	assert.ErrorIs(t, err, ErrWrite)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Equal(t, KindWrite, KindOf(err))
	assert.Equal(t, "WriteError: write module_configuration: broken pipe", errors.Unwrap(err).Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorKind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "UnknownError", ErrorKind(0).String())
}

func TestErrorKindNames(t *testing.T) {
	assert.Equal(t, "ConnectionError", KindConnection.String())
	assert.Equal(t, "RegistrationError", KindRegistration.String())
	assert.Equal(t, "WriteError", KindWrite.String())
	assert.Equal(t, "ConfigLoadError", KindConfigLoad.String())
}
