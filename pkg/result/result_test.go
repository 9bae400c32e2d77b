package result_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/jmerrifield20/logline/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestOk(t *testing.T) {
	r := result.Ok(42)
	assert.True(t, r.IsOk())
	assert.False(t, r.IsErr())

	v, err := r.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 42, r.UnwrapOr(7))
	assert.Equal(t, 42, r.MustGet())
}

func TestErr(t *testing.T) {
	r := result.Err[int](errBoom)
	assert.True(t, r.IsErr())
	assert.ErrorIs(t, r.Error(), errBoom)
	assert.Equal(t, 7, r.UnwrapOr(7))
	assert.Panics(t, func() { r.MustGet() })
}

func TestErr_nilPanics(t *testing.T) {
	assert.Panics(t, func() { result.Err[int](nil) })
}

func TestFrom(t *testing.T) {
	assert.True(t, result.From(1, nil).IsOk())
	assert.True(t, result.From(1, errBoom).IsErr())
}

func TestMap(t *testing.T) {
	r := result.Map(result.Ok(5), strconv.Itoa)
	assert.Equal(t, "5", r.MustGet())

	failed := result.Map(result.Err[int](errBoom), strconv.Itoa)
	assert.ErrorIs(t, failed.Error(), errBoom)
}

func TestFlatMap(t *testing.T) {
	parse := func(s string) result.Result[int] { return result.From(strconv.Atoi(s)) }

	assert.Equal(t, 12, result.FlatMap(result.Ok("12"), parse).MustGet())
	assert.True(t, result.FlatMap(result.Ok("x"), parse).IsErr())
	assert.ErrorIs(t, result.FlatMap(result.Err[string](errBoom), parse).Error(), errBoom)
}

func TestMatch(t *testing.T) {
	describe := func(r result.Result[int]) string {
		return result.Match(r,
			func(v int) string { return "ok:" + strconv.Itoa(v) },
			func(err error) string { return "err:" + err.Error() },
		)
	}
	assert.Equal(t, "ok:3", describe(result.Ok(3)))
	assert.Equal(t, "err:boom", describe(result.Err[int](errBoom)))
}
