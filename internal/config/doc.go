// Package config manages the udpdiscover configuration file.
//
// The file holds named scan profiles (port, hello payload and the options of
// a discovery.ScanRequest) plus a few application preferences. Two profiles
// are built in and can be shadowed by a user profile of the same name.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/udpdiscover/config.yaml or $HOME/.config/udpdiscover/config.yaml
//   - macOS: $HOME/.config/udpdiscover/config.yaml
//   - Windows: %LOCALAPPDATA%\udpdiscover\config.yaml
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = registry.SetProfile("lab", &config.Profile{
//	    Port:      12000,
//	    Hello:     "02 35 38 2e 30 03 10",
//	    TimeoutMS: 2000,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
//	req, err := registry.GetProfile("lab").ScanRequest()
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File writes are serialized by a mutex and replace the file atomically.
package config
