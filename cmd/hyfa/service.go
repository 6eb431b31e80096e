package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

const (
	launchdLabel    = "com.hyfa.slack"
	systemdUnitName = "hyfa.service"
)

// serviceFile is a rendered service definition and where it belongs.
type serviceFile struct {
	Path    string
	Content string
	Hints   []string
}

type serviceParams struct {
	Label  string
	Exec   string
	Config string
	Log    string
	ErrLog string
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage Hyfa as a user service (launchd/systemd)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install a service file that runs 'hyfa run' on login",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("cannot resolve home directory: %w", err)
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			sf, err := renderService(runtime.GOOS, home, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			if err := writeServiceFile(sf); err != nil {
				return err
			}
			fmt.Printf("Service installed: %s\n", sf.Path)
			for _, h := range sf.Hints {
				fmt.Println(h)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("cannot resolve home directory: %w", err)
			}
			path, err := servicePath(runtime.GOOS, home)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service uninstalled: %s\n", path)
			return nil
		},
	})

	return cmd
}

func servicePath(goos, home string) (string, error) {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnitName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

// renderService builds the launchd plist or systemd unit for goos.
func renderService(goos, home, execPath, cfgPath string) (serviceFile, error) {
	path, err := servicePath(goos, home)
	if err != nil {
		return serviceFile{}, err
	}

	params := serviceParams{
		Label:  launchdLabel,
		Exec:   execPath,
		Config: cfgPath,
		Log:    filepath.Join(home, ".hyfa", "logs", "hyfa.log"),
		ErrLog: filepath.Join(home, ".hyfa", "logs", "hyfa-error.log"),
	}

	tmpl := systemdTemplate
	hints := []string{
		"To start:  systemctl --user start hyfa",
		"To enable: systemctl --user enable hyfa",
		"To stop:   systemctl --user stop hyfa",
	}
	if goos == "darwin" {
		tmpl = launchdTemplate
		hints = []string{
			"To start: launchctl load " + path,
			"To stop:  launchctl unload " + path,
		}
	}

	var buf bytes.Buffer
	if err := template.Must(template.New("service").Parse(tmpl)).Execute(&buf, params); err != nil {
		return serviceFile{}, fmt.Errorf("render service file: %w", err)
	}
	return serviceFile{Path: path, Content: buf.String(), Hints: hints}, nil
}

func writeServiceFile(sf serviceFile) error {
	if err := os.MkdirAll(filepath.Dir(sf.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(sf.Path, []byte(sf.Content), 0o644)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=Hyfa Slack assistant
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} run --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
