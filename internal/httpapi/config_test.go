package httpapi

import (
	"testing"

	"hallod/pkg/types"
)

func TestSetMaxBodyBytes(t *testing.T) {
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("max=%d", maxBodyBytes)
	}
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 96<<20 {
		t.Fatalf("default not restored: %d", maxBodyBytes)
	}
}

func TestSetCORSOptionsDefaults(t *testing.T) {
	SetCORSOptions(true, nil, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	if !corsEnabled || corsAllowedOrigins[0] != "*" || len(corsAllowedMethods) != 3 {
		t.Fatalf("cors=%v %v %v", corsEnabled, corsAllowedOrigins, corsAllowedMethods)
	}
	if jobStatusCode(jobErr("model_load_failed")) != 503 || jobStatusCode(jobErr("timeout")) != 200 {
		t.Fatalf("job status mapping")
	}
}

func jobErr(kind string) types.JobResponse {
	return types.JobResponse{Status: types.StatusError, Error: &types.JobError{Kind: kind}}
}
