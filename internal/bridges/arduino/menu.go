package arduino

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Config menu RPC methods.
const (
	MethodMenu               = "menu"
	MethodManualBoardVersion = "manual_board_version"
	MethodManualHexLocation  = "manual_hex_location"
	MethodConfirmFlash       = "confirm_flash_arduino"
	MethodBeginFlash         = "flashduino_begin"
)

const defaultURLCheckDelay = 10 * time.Second

// Menu is a config menu page returned to the host.
type Menu struct {
	Contents []MenuItem `json:"contents,omitempty"`
}

// MenuItem is one element of a menu page.
type MenuItem struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Name        string       `json:"name,omitempty"`
	RPCMethod   string       `json:"rpc_method,omitempty"`
	FieldName   string       `json:"field_name,omitempty"`
	Value       string       `json:"value,omitempty"`
	Label       string       `json:"label,omitempty"`
	Placeholder string       `json:"placeholder,omitempty"`
	Required    bool         `json:"required,omitempty"`
	Options     []MenuOption `json:"options,omitempty"`
}

// MenuOption is a choice in an input field.
type MenuOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func paragraph(text string) MenuItem { return MenuItem{Type: "paragraph", Text: text} }

func submit(name, method string) MenuItem {
	return MenuItem{Type: "submit", Name: name, RPCMethod: method}
}

func closeButton(text string) MenuItem { return MenuItem{Type: "close", Text: text} }

// Flasher is the part of the Driver the config menu drives.
type Flasher interface {
	SelectVersion(ctx context.Context, tag string) error
	SelectImageURL(ctx context.Context, url string) error
	Flash(ctx context.Context) error
}

// MenuOptions configures a ConfigMenu.
type MenuOptions struct {
	BoardVersions []string

	// DefaultHexURL pre-fills the custom image field. Empty leaves it blank.
	DefaultHexURL string

	// URLCheckTimeout bounds the hex URL reachability check.
	URLCheckTimeout time.Duration

	HTTPClient *http.Client
	Logger     Logger
}

// ConfigMenu walks an operator through selecting firmware and flashing.
type ConfigMenu struct {
	flasher  Flasher
	versions []string
	hexURL   string
	client   *http.Client
	logger   Logger
}

// NewConfigMenu creates a ConfigMenu for f.
func NewConfigMenu(f Flasher, opts MenuOptions) *ConfigMenu {
	if len(opts.BoardVersions) == 0 {
		opts.BoardVersions = []string{"V12", "V11"}
	}
	if opts.URLCheckTimeout == 0 {
		opts.URLCheckTimeout = defaultURLCheckDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.URLCheckTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &ConfigMenu{
		flasher:  f,
		versions: opts.BoardVersions,
		hexURL:   opts.DefaultHexURL,
		client:   opts.HTTPClient,
		logger:   opts.Logger,
	}
}

// menuParams are the fields submitted by the board version and hex URL pages.
type menuParams struct {
	BoardVersion *string `json:"arduino_board_version"`
	HexURL       *string `json:"arduino_hex_url"`
}

// Handle runs one menu RPC. An empty method shows the welcome page.
func (m *ConfigMenu) Handle(ctx context.Context, method string, params json.RawMessage) (Menu, error) {
	switch method {
	case "", MethodMenu:
		return m.welcome(), nil
	case MethodManualBoardVersion:
		return m.boardVersionPage(), nil
	case MethodManualHexLocation:
		return m.hexURLPage(), nil
	case MethodConfirmFlash:
		return m.confirm(ctx, params)
	case MethodBeginFlash:
		if err := m.flasher.Flash(ctx); err != nil {
			return Menu{}, fmt.Errorf("starting flash: %w", err)
		}
		return flashingPage(), nil
	default:
		return Menu{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

func (m *ConfigMenu) confirm(ctx context.Context, raw json.RawMessage) (Menu, error) {
	var p menuParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return Menu{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
	}

	switch {
	case p.BoardVersion != nil:
		if err := m.flasher.SelectVersion(ctx, *p.BoardVersion); err != nil {
			return Menu{}, err
		}
		return confirmPage(), nil
	case p.HexURL != nil:
		if !m.reachable(ctx, *p.HexURL) {
			return invalidURLPage(), nil
		}
		if err := m.flasher.SelectImageURL(ctx, *p.HexURL); err != nil {
			return Menu{}, err
		}
		return confirmPage(), nil
	default:
		return Menu{}, fmt.Errorf("%w: need arduino_board_version or arduino_hex_url", ErrInvalidParams)
	}
}

// reachable reports whether a HEAD request to url answers 200.
func (m *ConfigMenu) reachable(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		m.logger.Info("invalid hex url", "url", url, "error", err)
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Info("hex url unreachable", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.logger.Info("hex url unreachable", "url", url, "status", resp.StatusCode)
		return false
	}
	return true
}

func (m *ConfigMenu) welcome() Menu {
	return Menu{Contents: []MenuItem{
		paragraph("Driver for interaction with the Arduino inside the Ninja Block"),
		submit("Flash Official", MethodManualBoardVersion),
		submit("Flash Custom", MethodManualHexLocation),
		closeButton("Close"),
	}}
}

func (m *ConfigMenu) boardVersionPage() Menu {
	opts := make([]MenuOption, 0, len(m.versions))
	for _, v := range m.versions {
		opts = append(opts, MenuOption{Name: v, Value: v})
	}
	return Menu{Contents: []MenuItem{
		paragraph("Please select your arduino board version number"),
		{
			Type:        "input_field_text",
			FieldName:   "arduino_board_version",
			Value:       m.versions[0],
			Label:       "Arduino Board Version",
			Placeholder: m.versions[0],
			Required:    true,
			Options:     opts,
		},
		submit("Flash", MethodConfirmFlash),
		closeButton("Cancel"),
	}}
}

func (m *ConfigMenu) hexURLPage() Menu {
	return Menu{Contents: []MenuItem{
		paragraph("Please select your arduino board version number"),
		{
			Type:        "input_field_text",
			FieldName:   "arduino_hex_url",
			Value:       m.hexURL,
			Label:       "Arduino .hex location",
			Placeholder: m.hexURL,
			Required:    true,
		},
		submit("Flash", MethodConfirmFlash),
		closeButton("Cancel"),
	}}
}

func confirmPage() Menu {
	return Menu{Contents: []MenuItem{
		paragraph("Ready to download and flash arduino. Are you sure?"),
		submit("Yes", MethodBeginFlash),
		closeButton("No"),
	}}
}

func flashingPage() Menu {
	return Menu{Contents: []MenuItem{
		paragraph("Flashing arduino. Please wait for the status LED to return to green"),
		closeButton("OK"),
	}}
}

func invalidURLPage() Menu {
	return Menu{Contents: []MenuItem{
		paragraph("The given url could not be reached."),
		submit("Retry", MethodManualHexLocation),
		closeButton("Cancel"),
	}}
}
