// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blunder

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestValues(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(int(unix.ENOENT), NotFoundError.Value())
	assert.Equal(int(unix.EIO), IOError.Value())
	assert.Equal("NotSupportedError", NotSupportedError.String())
	assert.Equal("PageError(4242)", PageError(4242).String())

	assert.Equal(http.StatusNotFound, NotFoundError.HTTPCode())
	assert.Equal(http.StatusBadRequest, InvalidArgError.HTTPCode())
	assert.Equal(http.StatusNotImplemented, NotSupportedError.HTTPCode())
	assert.Equal(http.StatusGatewayTimeout, TimedOutError.HTTPCode())
	assert.Equal(http.StatusInternalServerError, IOError.HTTPCode())
}

func TestDefaultErrno(t *testing.T) {
	assert := assert.New(t)

	var err error

	assert.Equal(successErrno, Errno(err))
	assert.Equal(SuccessError, Code(err))
	assert.Equal(http.StatusOK, HTTPCode(err))
	assert.Equal("", ErrorString(err))

	err = fmt.Errorf("plain error")

	assert.Equal(failureErrno, Errno(err))
	assert.Equal(IOError, Code(err))
	assert.Equal(http.StatusInternalServerError, HTTPCode(err))
	assert.Equal("plain error", ErrorString(err))
}

func TestNewAndAddError(t *testing.T) {
	assert := assert.New(t)

	err := NewError(NotFoundError, "page %s not found", "intro")
	assert.Equal("page intro not found", err.Error())
	assert.True(Is(err, NotFoundError))
	assert.True(IsNot(err, IOError))
	assert.Equal(NotFoundError, Code(err))
	assert.Equal(http.StatusNotFound, HTTPCode(err))
	assert.Contains(ErrorString(err), "Error Value: 2")
	assert.Contains(SourceLine(err), "api_test.go")
	assert.Contains(Details(err), "page intro not found")

	err = AddError(fmt.Errorf("backend exploded"), IOError)
	assert.True(Is(err, IOError))
	assert.Equal("backend exploded", err.Error())

	err = AddError(err, TryAgainError)
	assert.True(Is(err, TryAgainError))
	assert.Equal(http.StatusServiceUnavailable, HTTPCode(err))

	err = AddError(nil, InvalidArgError)
	assert.NotNil(err)
	assert.True(Is(err, InvalidArgError))
}

func TestCopy(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(Copy(nil))

	original := NewError(NotFoundError, "missing page")

	firstCopy := Copy(original)
	secondCopy := Copy(original)

	assert.Equal(original.Error(), firstCopy.Error())
	assert.Equal(original.Error(), secondCopy.Error())
	assert.True(Is(firstCopy, NotFoundError))
	assert.True(Is(secondCopy, NotFoundError))
	assert.Equal(http.StatusNotFound, HTTPCode(firstCopy))

	assert.False(original == firstCopy)
	assert.False(firstCopy == secondCopy)

	plainCopy := Copy(fmt.Errorf("plain"))
	assert.Equal("plain", plainCopy.Error())
	assert.Equal(IOError, Code(plainCopy))
}
