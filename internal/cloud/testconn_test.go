package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/labmgr/labmgr/internal/labmanager"
)

func TestTestConnectionFieldChecksInOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProfileOptions)
		want   string
	}{
		{"host missing", func(o *ProfileOptions) { o.Host = ""; o.Organization = "" }, MsgHostMissing},
		{"host not https", func(o *ProfileOptions) { o.Host = "http://lab"; o.Username = "" }, MsgHostNotHTTPS},
		{"organization missing", func(o *ProfileOptions) { o.Organization = " "; o.Configuration = "" }, MsgOrganizationMissing},
		{"configuration missing", func(o *ProfileOptions) { o.Configuration = ""; o.Password = "" }, MsgConfigurationMissing},
		{"username missing", func(o *ProfileOptions) { o.Username = ""; o.Password = "" }, MsgUsernameMissing},
		{"password missing", func(o *ProfileOptions) { o.Password = "" }, MsgPasswordMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mutate(&opts)
			res := TestConnection(context.Background(), opts)
			assert.False(t, res.OK)
			assert.Equal(t, tt.want, res.Message)
		})
	}
}

func TestTestConnectionSucceeds(t *testing.T) {
	fake := labmanager.NewFakeClient()
	fake.AddConfiguration("Build Farm", false)

	res := TestConnection(context.Background(), testOptions(), fakeOpener(fake))
	assert.True(t, res.OK)
	assert.Equal(t, MsgConnected, res.Message)
	assert.NoError(t, res.Err)
}

func TestTestConnectionLookupFailure(t *testing.T) {
	fake := labmanager.NewFakeClient()
	fake.LookupErr = labmanager.ErrConnection

	res := TestConnection(context.Background(), testOptions(), fakeOpener(fake))
	assert.False(t, res.OK)
	assert.Equal(t, MsgLoginFailed, res.Message)
	assert.True(t, errors.Is(res.Err, labmanager.ErrConnection))
}

func TestTestConnectionUnknownConfiguration(t *testing.T) {
	res := TestConnection(context.Background(), testOptions(), fakeOpener(labmanager.NewFakeClient()))
	assert.False(t, res.OK)
	assert.Equal(t, MsgLoginFailed, res.Message)
}

func TestTestConnectionOpenerFailure(t *testing.T) {
	failing := WithSessionOpener(func(context.Context, *Profile) (labmanager.Client, error) {
		return nil, labmanager.ErrConnection
	})
	res := TestConnection(context.Background(), testOptions(), failing)
	assert.False(t, res.OK)
	assert.Equal(t, MsgLoginFailed, res.Message)
}

func TestProfileTestUsesOwnSettings(t *testing.T) {
	fake := labmanager.NewFakeClient()
	fake.AddConfiguration("Build Farm", true)

	p := NewProfile(testOptions(), fakeOpener(fake))
	res := p.Test(context.Background())
	assert.True(t, res.OK)
	assert.Equal(t, []labmanager.Call{{Op: "GetConfigurationByName", Name: "Build Farm"}}, fake.Calls())

	opts := p.Options()
	assert.Equal(t, testOptions().Password, opts.Password)
	assert.Equal(t, DefaultWorkspace, opts.Workspace)
}
