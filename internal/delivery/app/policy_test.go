package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestTransportPolicy_IsFallbackEligible(t *testing.T) {
	const addr = "+15551230001"

	tests := []struct {
		name        string
		destination string
		isMedia     bool
		setup       func(dir *MockDirectoryStore, pr *MockPrefsStore)
		want        bool
	}{
		{
			name:        "malformed destination fails closed",
			destination: "not a number",
			setup:       func(dir *MockDirectoryStore, pr *MockPrefsStore) {},
			want:        false,
		},
		{
			name:        "group destination never eligible",
			destination: "group!abcdef",
			setup:       func(dir *MockDirectoryStore, pr *MockPrefsStore) {},
			want:        false,
		},
		{
			name:        "fallback disabled globally",
			destination: addr,
			setup: func(dir *MockDirectoryStore, pr *MockPrefsStore) {
				pr.On("FallbackAllowed", mock.Anything).Return(false, nil)
			},
			want: false,
		},
		{
			name:        "media blocked when media fallback disabled",
			destination: addr,
			isMedia:     true,
			setup: func(dir *MockDirectoryStore, pr *MockPrefsStore) {
				pr.On("FallbackAllowed", mock.Anything).Return(true, nil)
				pr.On("FallbackMediaAllowed", mock.Anything).Return(false, nil)
			},
			want: false,
		},
		{
			name:        "directory says unsupported",
			destination: addr,
			setup: func(dir *MockDirectoryStore, pr *MockPrefsStore) {
				pr.On("FallbackAllowed", mock.Anything).Return(true, nil)
				dir.On("SupportsFallback", mock.Anything, addr).Return(false, nil)
			},
			want: false,
		},
		{
			name:        "directory lookup error fails closed",
			destination: addr,
			setup: func(dir *MockDirectoryStore, pr *MockPrefsStore) {
				pr.On("FallbackAllowed", mock.Anything).Return(true, nil)
				dir.On("SupportsFallback", mock.Anything, addr).Return(false, errors.New("connection refused"))
			},
			want: false,
		},
		{
			name:        "text message eligible",
			destination: addr,
			setup: func(dir *MockDirectoryStore, pr *MockPrefsStore) {
				pr.On("FallbackAllowed", mock.Anything).Return(true, nil)
				dir.On("SupportsFallback", mock.Anything, addr).Return(true, nil)
			},
			want: true,
		},
		{
			name:        "media eligible when both preferences allow",
			destination: addr,
			isMedia:     true,
			setup: func(dir *MockDirectoryStore, pr *MockPrefsStore) {
				pr.On("FallbackAllowed", mock.Anything).Return(true, nil)
				pr.On("FallbackMediaAllowed", mock.Anything).Return(true, nil)
				dir.On("SupportsFallback", mock.Anything, addr).Return(true, nil)
			},
			want: true,
		},
		{
			name:        "unnormalized input is canonicalized before lookup",
			destination: "+1 (555) 123-0001",
			setup: func(dir *MockDirectoryStore, pr *MockPrefsStore) {
				pr.On("FallbackAllowed", mock.Anything).Return(true, nil)
				dir.On("SupportsFallback", mock.Anything, addr).Return(true, nil)
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := new(MockDirectoryStore)
			pr := new(MockPrefsStore)
			tt.setup(dir, pr)

			p := NewTransportPolicy(dir, pr, testLogger())
			got := p.IsFallbackEligible(context.Background(), tt.destination, tt.isMedia)

			assert.Equal(t, tt.want, got)
			dir.AssertExpectations(t)
			pr.AssertExpectations(t)
		})
	}
}

func TestTransportPolicy_IsFallbackApprovalRequired(t *testing.T) {
	const addr = "+15551230001"

	t.Run("ineligible destination never requires approval", func(t *testing.T) {
		dir := new(MockDirectoryStore)
		pr := new(MockPrefsStore)
		pr.On("FallbackAllowed", mock.Anything).Return(false, nil)

		p := NewTransportPolicy(dir, pr, testLogger())
		assert.False(t, p.IsFallbackApprovalRequired(context.Background(), addr, false))
	})

	t.Run("eligible plus ask preference requires approval", func(t *testing.T) {
		dir := new(MockDirectoryStore)
		pr := new(MockPrefsStore)
		pr.On("FallbackAllowed", mock.Anything).Return(true, nil)
		dir.On("SupportsFallback", mock.Anything, addr).Return(true, nil)
		pr.On("FallbackApprovalRequired", mock.Anything).Return(true, nil)

		p := NewTransportPolicy(dir, pr, testLogger())
		assert.True(t, p.IsFallbackApprovalRequired(context.Background(), addr, false))
	})

	t.Run("eligible without ask preference is silent", func(t *testing.T) {
		dir := new(MockDirectoryStore)
		pr := new(MockPrefsStore)
		pr.On("FallbackAllowed", mock.Anything).Return(true, nil)
		dir.On("SupportsFallback", mock.Anything, addr).Return(true, nil)
		pr.On("FallbackApprovalRequired", mock.Anything).Return(false, nil)

		p := NewTransportPolicy(dir, pr, testLogger())
		assert.False(t, p.IsFallbackApprovalRequired(context.Background(), addr, false))
	})
}
