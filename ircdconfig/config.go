/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ircdconfig

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoListeners  = errors.New("no listener stanzas configured")
	ErrNoServerName = errors.New("global server-name is empty")
	ErrNoSID        = errors.New("global server-id is empty")
	ErrBadSID       = errors.New("server-id must be exactly 3 alphanumeric characters")
)

// ServerConfig is the root of the gcfg document: one [global] section
// plus repeated [listener "name"], [oper "name"] and [link "name"]
// sections. Load fills unset Global fields with defaults. NickLen,
// ChannelLen, TopicLen, MaxChannelsPerUser, TargMax, RecvQBytes and
// ConnectionRatePerSec/ConnectionBurst are not read outside this
// package, and PingFrequency only reaches an unused PingKeeper;
// NICKLEN, TARGMAX and MAXCHANNELS are router constants.
type ServerConfig struct {
	Global    Global
	Listener  map[string]*ListenerConfig
	Oper      map[string]*OperConfig
	Link      map[string]*LinkConfig
}

type Global struct {
	ServerName        string
	ServerID           string // 3-char SID
	Network            string
	Description        string
	MOTDFile           string
	NickLen            int
	ChannelLen         int
	TopicLen           int
	MaxChannelsPerUser int
	TargMax            int
	RegistrationTimeout time.Duration
	PingFrequency      time.Duration
	PingTimeout        time.Duration
	SendQBytes         int64
	RecvQBytes         int64
	MessageRatePerSec  float64
	MessageBurst       int
	ConnectionRatePerSec float64
	ConnectionBurst    int
	CTCPRatePerSec     float64
	HistoryPerTargetCap int
	HistoryRetention   time.Duration
	HistoryDBPath      string
	CloakSecret        string
	CloakSuffix        string
	ConfDPath          string
	AccountDBPath      string
}

// ListenerConfig describes one bound address: plaintext, TLS,
// WebSocket, or an S2S peer listener, selected by the Transport field.
type ListenerConfig struct {
	Bind        string
	Transport   string // "plain", "tls", "websocket", "s2s"
	TLSCert     string
	TLSKey      string
	WebIRCAllow []string
}

// OperConfig is one /OPER grant: a login name, an Argon2id password
// hash (never a plaintext password), and the set of privileges the
// grant confers.
type OperConfig struct {
	Login        string
	PasswordHash string
	Privileges   []string
	AllowedHosts []string
}

// LinkConfig is one configured S2S peer.
type LinkConfig struct {
	Name       string // remote SID or server name
	Address    string
	Password   string
	AutoConnect bool
	TLS        bool
	TLSVerify  bool
}

// Verify checks the loaded configuration for internal consistency.
// Load calls this after applying defaults.
func (c *ServerConfig) Verify() error {
	if c.Global.ServerName == `` {
		return ErrNoServerName
	}
	if c.Global.ServerID == `` {
		return ErrNoSID
	}
	if len(c.Global.ServerID) != 3 {
		return ErrBadSID
	}
	for _, r := range c.Global.ServerID {
		if !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return ErrBadSID
		}
	}
	if len(c.Listener) == 0 {
		return ErrNoListeners
	}
	for name, l := range c.Listener {
		if l.Bind == `` {
			return fmt.Errorf("listener %q: bind address is empty", name)
		}
		if l.Transport == `tls` && (l.TLSCert == `` || l.TLSKey == ``) {
			return fmt.Errorf("listener %q: tls transport requires cert and key", name)
		}
	}
	for name, o := range c.Oper {
		if o.Login == `` || o.PasswordHash == `` {
			return fmt.Errorf("oper %q: login and password-hash are required", name)
		}
	}
	for name, l := range c.Link {
		if l.Address == `` {
			return fmt.Errorf("link %q: address is empty", name)
		}
	}
	return nil
}

// applyDefaults fills unset knobs with the teacher-grounded defaults
// used elsewhere in the module (session.DefaultRegistrationTimeout,
// channel.DefaultInboxSize-scale limits, etc.) so a minimal config
// file is enough to boot.
func (c *ServerConfig) applyDefaults() {
	g := &c.Global
	if g.NickLen == 0 {
		g.NickLen = 30
	}
	if g.ChannelLen == 0 {
		g.ChannelLen = 50
	}
	if g.TopicLen == 0 {
		g.TopicLen = 390
	}
	if g.MaxChannelsPerUser == 0 {
		g.MaxChannelsPerUser = 20
	}
	if g.TargMax == 0 {
		g.TargMax = 4
	}
	if g.RegistrationTimeout == 0 {
		g.RegistrationTimeout = 10 * time.Second
	}
	if g.PingFrequency == 0 {
		g.PingFrequency = 90 * time.Second
	}
	if g.PingTimeout == 0 {
		g.PingTimeout = 240 * time.Second
	}
	if g.SendQBytes == 0 {
		g.SendQBytes = 1024 * 1024
	}
	if g.RecvQBytes == 0 {
		g.RecvQBytes = 8192
	}
	if g.MessageRatePerSec == 0 {
		g.MessageRatePerSec = 2
	}
	if g.MessageBurst == 0 {
		g.MessageBurst = 10
	}
	if g.ConnectionRatePerSec == 0 {
		g.ConnectionRatePerSec = 5
	}
	if g.ConnectionBurst == 0 {
		g.ConnectionBurst = 20
	}
	if g.CTCPRatePerSec == 0 {
		g.CTCPRatePerSec = 1
	}
	if g.HistoryPerTargetCap == 0 {
		g.HistoryPerTargetCap = 1000
	}
	if g.HistoryRetention == 0 {
		g.HistoryRetention = 30 * 24 * time.Hour
	}
}

// Load reads the base config file at path, applies any conf.d
// overlays found under confdPath, fills in defaults, and verifies
// the result.
func Load(path, confdPath string) (*ServerConfig, error) {
	c := &ServerConfig{}
	if err := LoadConfigFile(c, path); err != nil {
		return nil, err
	}
	if confdPath != `` {
		if err := LoadConfigOverlays(c, confdPath); err != nil {
			return nil, err
		}
	}
	c.applyDefaults()
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return c, nil
}
