package anp_auth

import (
	"errors"
	"net/url"
	"testing"
)

func TestInferTargetDID(t *testing.T) {
	fullDID := "did:wba:remote.example.com%3A8080:wba:user:fedcba9876543210"

	tests := []struct {
		name    string
		path    string
		host    string
		want    string
		wantErr bool
	}{
		{
			name: "wba user path",
			path: "/wba/user/0123456789abcdef/did.json",
			host: "localhost:9527",
			want: "did:wba:localhost%3A9527:wba:user:0123456789abcdef",
		},
		{
			name: "wba hostuser path",
			path: "/wba/hostuser/0123456789abcdef/did.json",
			host: "localhost:9527",
			want: "did:wba:localhost%3A9527:wba:hostuser:0123456789abcdef",
		},
		{
			name: "agent api with local id",
			path: "/agent/api/0123456789abcdef/hello",
			host: "localhost:9527",
			want: "did:wba:localhost%3A9527:wba:user:0123456789abcdef",
		},
		{
			name: "agent message with encoded DID",
			path: "/agent/message/" + url.PathEscape(fullDID) + "/post",
			host: "localhost:9527",
			want: fullDID,
		},
		{
			name: "agent group",
			path: "/agent/group/0123456789abcdef/team/join",
			host: "example.com",
			want: "did:wba:example.com:wba:user:0123456789abcdef",
		},
		{name: "unrelated path", path: "/docs", host: "localhost:9527", wantErr: true},
		{name: "agent with garbage id", path: "/agent/api/not-a-did/x", host: "localhost:9527", wantErr: true},
		{name: "wba with short id", path: "/wba/user/0123/did.json", host: "localhost:9527", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InferTargetDID(tt.path, tt.host)
			if tt.wantErr {
				if !errors.Is(err, ErrCannotInferTarget) {
					t.Errorf("got %v, want ErrCannotInferTarget", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("InferTargetDID: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
