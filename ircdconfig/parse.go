/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package ircdconfig

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// AppendDefaultPort appends defPort to bstr if bstr doesn't already
// carry a port, so listener stanzas can write a bare address and rely
// on the per-transport default (6667 plaintext, 6697 TLS, ...).
func AppendDefaultPort(bstr string, defPort uint16) string {
	if ip := net.ParseIP(bstr); ip != nil {
		return net.JoinHostPort(bstr, strconv.FormatUint(uint64(defPort), 10))
	}
	if _, _, err := net.SplitHostPort(bstr); err != nil {
		if aerr, ok := err.(*net.AddrError); ok && aerr.Err == "missing port in address" {
			return fmt.Sprintf("%s:%d", bstr, defPort)
		}
	}
	return bstr
}

type multSuff struct {
	mult   int64
	suffix string
}

var rateSuffix = []multSuff{
	{mult: 1024, suffix: `kbit`},
	{mult: 1024, suffix: `kbps`},
	{mult: 1024, suffix: `Kbit`},
	{mult: 1024, suffix: `Kbps`},
	{mult: 8 * 1024, suffix: `KBps`},

	{mult: 1024 * 1024, suffix: `mbit`},
	{mult: 1024 * 1024, suffix: `mbps`},
	{mult: 1024 * 1024, suffix: `Mbit`},
	{mult: 1024 * 1024, suffix: `Mbps`},
	{mult: 8 * 1024 * 1024, suffix: `MBps`},

	{mult: 1024 * 1024 * 1024, suffix: `gbit`},
	{mult: 1024 * 1024 * 1024, suffix: `gbps`},
	{mult: 1024 * 1024 * 1024, suffix: `Gbit`},
	{mult: 1024 * 1024 * 1024, suffix: `Gbps`},
	{mult: 8 * 1024 * 1024 * 1024, suffix: `GBps`},
}

// ParseRate parses a data rate (e.g. for sendq/recvq caps) returning
// bits per second. A bare number with no suffix is bits per second.
func ParseRate(s string) (bps int64, err error) {
	var r uint64
	if len(s) == 0 {
		return
	}
	for _, v := range rateSuffix {
		if strings.HasSuffix(s, v.suffix) {
			s = strings.TrimSuffix(s, v.suffix)
			if r, err = strconv.ParseUint(s, 10, 64); err != nil {
				return
			}
			bps = int64(r) * v.mult
			return
		}
	}
	if r, err = strconv.ParseUint(s, 10, 64); err != nil {
		return
	}
	bps = int64(r)
	return
}

// ParseBool parses a config-file-style boolean token.
func ParseBool(v string) (r bool, err error) {
	switch strings.ToLower(v) {
	case `true`, `t`, `yes`, `y`, `1`:
		r = true
	case `false`, `f`, `no`, `n`, `0`:
	default:
		err = fmt.Errorf("unknown boolean value %q", v)
	}
	return
}

// ParseUint64 parses a decimal or 0x-prefixed hex unsigned integer.
func ParseUint64(v string) (i uint64, err error) {
	if strings.HasPrefix(v, "0x") {
		i, err = strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
	} else {
		i, err = strconv.ParseUint(v, 10, 64)
	}
	return
}

// ParseInt64 parses a decimal or 0x-prefixed hex signed integer.
func ParseInt64(v string) (i int64, err error) {
	if strings.HasPrefix(v, "0x") {
		i, err = strconv.ParseInt(strings.TrimPrefix(v, "0x"), 16, 64)
	} else {
		i, err = strconv.ParseInt(v, 10, 64)
	}
	return
}
