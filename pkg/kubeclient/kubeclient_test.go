package kubeclient

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHomeDir(t *testing.T) {
	t.Setenv("HOME", "/custom/home")
	if got := homeDir(); got != "/custom/home" {
		t.Errorf("expected '/custom/home', got %q", got)
	}

	t.Setenv("HOME", "")
	t.Setenv("USERPROFILE", "/somewhere/user/example")
	if got := homeDir(); got != "/somewhere/user/example" {
		t.Errorf("expected '/somewhere/user/example', got %q", got)
	}
}

func TestGetRestConfig_LocalFallback(t *testing.T) {
	os.Unsetenv("KUBERNETES_SERVICE_HOST")
	os.Unsetenv("KUBERNETES_SERVICE_PORT")

	tmpHome := t.TempDir()
	fakeKubeDir := filepath.Join(tmpHome, ".kube")
	if err := os.MkdirAll(fakeKubeDir, 0755); err != nil {
		t.Fatalf("failed to create fake kube dir: %v", err)
	}

	kubeconfig := filepath.Join(fakeKubeDir, "config")
	err := os.WriteFile(kubeconfig, []byte(`
apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://localhost
  name: local
contexts:
- context:
    cluster: local
    user: dev
  name: local-context
current-context: local-context
users:
- name: dev
  user:
    username: dev
    password: dev
`), 0644)
	if err != nil {
		t.Fatalf("failed to write dummy kubeconfig: %v", err)
	}

	t.Setenv("HOME", tmpHome)

	cfg, err := GetRestConfig()
	if err != nil {
		t.Errorf("expected successful fallback config, got error: %v", err)
	}
	if cfg == nil {
		t.Errorf("expected non-nil config")
	}
}

func TestGetRestConfig_NoKubeconfig(t *testing.T) {
	os.Unsetenv("KUBERNETES_SERVICE_HOST")
	os.Unsetenv("KUBERNETES_SERVICE_PORT")
	t.Setenv("HOME", t.TempDir())

	if _, err := GetRestConfig(); err == nil {
		t.Fatal("expected error without kubeconfig, got none")
	}
}
