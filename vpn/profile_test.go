package vpn

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yllada/datagate-shell/common"
)

func writeOvpn(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProfileManager_AddAndPersist(t *testing.T) {
	src := t.TempDir()
	dir := t.TempDir()
	ovpn := writeOvpn(t, src, "work.ovpn", "client\nremote vpn.example.com 1194\n")

	pm, err := NewProfileManager(dir)
	if err != nil {
		t.Fatalf("NewProfileManager() error = %v", err)
	}

	p := &Profile{Name: "Work", ConfigPath: ovpn, Username: "alice", SavePassword: true}
	if err := pm.Add(p); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if p.ID == "" {
		t.Error("Add() should assign an ID")
	}
	if p.ListenIP != DefaultListenIP || p.ListenPort != DefaultListenPort {
		t.Errorf("listener = %s:%d, want defaults", p.ListenIP, p.ListenPort)
	}
	if filepath.Dir(p.ConfigPath) != filepath.Join(dir, "configs") {
		t.Errorf("ConfigPath = %s, want copy under configs/", p.ConfigPath)
	}

	reloaded, err := NewProfileManager(dir)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	got, err := reloaded.GetByName("Work")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if got.ID != p.ID || got.Username != "alice" || !got.SavePassword {
		t.Errorf("reloaded profile = %+v", got)
	}
}

func TestProfileManager_Errors(t *testing.T) {
	src := t.TempDir()
	pm, err := NewProfileManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	good := writeOvpn(t, src, "a.ovpn", "client\nremote a 1194\n")
	if err := pm.Add(&Profile{Name: "A", ConfigPath: good}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		profile *Profile
		wantErr error
	}{
		{"duplicate name", &Profile{Name: "a", ConfigPath: good}, ErrDuplicateName},
		{"missing name", &Profile{ConfigPath: good}, common.ErrInvalidProfile},
		{"bad listen ip", &Profile{Name: "B", ConfigPath: good, ListenIP: "not-an-ip"}, common.ErrInvalidProfile},
		{"bad port", &Profile{Name: "C", ConfigPath: good, ListenPort: 70000}, common.ErrInvalidProfile},
		{"wrong extension", &Profile{Name: "D", ConfigPath: writeOvpn(t, src, "d.txt", "client")}, ErrInvalidConfig},
		{"no directives", &Profile{Name: "E", ConfigPath: writeOvpn(t, src, "e.ovpn", "dev tun")}, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := pm.Add(tt.profile); !errors.Is(err, tt.wantErr) {
				t.Errorf("Add() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestProfileManager_UpdateRemove(t *testing.T) {
	src := t.TempDir()
	pm, err := NewProfileManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := &Profile{Name: "Home", ConfigPath: writeOvpn(t, src, "home.conf", "client\n")}
	if err := pm.Add(p); err != nil {
		t.Fatal(err)
	}

	cp, _ := pm.Get(p.ID)
	cp.Server = "relay-2"
	if err := pm.Update(cp); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got, _ := pm.Get(p.ID); got.Server != "relay-2" {
		t.Errorf("Server = %q, want relay-2", got.Server)
	}

	if err := pm.MarkUsed(p.ID); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}
	if got, _ := pm.Get(p.ID); got.LastUsed.IsZero() {
		t.Error("LastUsed should be set")
	}

	if err := pm.Remove(p.ID); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(p.ConfigPath); !os.IsNotExist(err) {
		t.Error("copied config should be removed")
	}
	if _, err := pm.Get(p.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Get() after Remove error = %v", err)
	}
	if err := pm.Remove(p.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("second Remove() error = %v", err)
	}
	if len(pm.List()) != 0 {
		t.Error("List() should be empty")
	}
}

func TestProfile_GetReturnsCopy(t *testing.T) {
	src := t.TempDir()
	pm, _ := NewProfileManager(t.TempDir())
	p := &Profile{Name: "X", ConfigPath: writeOvpn(t, src, "x.ovpn", "client")}
	if err := pm.Add(p); err != nil {
		t.Fatal(err)
	}

	got, _ := pm.Get(p.ID)
	got.Name = "changed"
	if again, _ := pm.Get(p.ID); again.Name != "X" {
		t.Errorf("Get() leaked internal state: %q", again.Name)
	}
}
