//go:build tools

// Package mocks holds gomock doubles for the store and responder interfaces.
package mocks

import (
	_ "go.uber.org/mock/mockgen"
)
