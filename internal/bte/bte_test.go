package bte

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrCarriesCodeAndMessage(t *testing.T) {
	err := Err(NotFound, "series 7 not found")
	require.Equal(t, NotFound, err.Code())
	require.Equal(t, "NOT_FOUND: series 7 not found", err.Error())
}

func TestErrfFormatsMessage(t *testing.T) {
	err := Errf(BadArg, "series %d already exists", 7)
	require.Equal(t, "BAD_ARG: series 7 already exists", err.Error())
}

func TestChanDeliversExactlyOneError(t *testing.T) {
	err := Err(IO, "disk gone")
	c := Chan(err)

	got, ok := <-c
	require.True(t, ok)
	require.Equal(t, err, got)

	_, ok = <-c
	require.False(t, ok)
}

func TestCodeOfDefaultsForeignErrorsToIO(t *testing.T) {
	require.Equal(t, OK, CodeOf(nil))
	require.Equal(t, IO, CodeOf(errors.New("disk on fire")))
}
