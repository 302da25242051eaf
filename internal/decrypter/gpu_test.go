package decrypter

import "testing"

func TestGPUUnavailableInDefaultBuild(t *testing.T) {
	if gpuAvailable() {
		t.Fatal("expected stub build to report GPU unavailable")
	}
}
