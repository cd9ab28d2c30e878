/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package fixture

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
	"github.com/coreos/go-iptables/iptables"
)

const (
	filterTable = "filter"
	outputChain = "OUTPUT"
)

var errInvalidAddress = errors.New("invalid partition address")

// Firewall is the subset of *iptables.IPTables used to cut traffic.
type Firewall interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Insert(table, chain string, pos int, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
}

// NewFirewall returns the iptables (or ip6tables) handle matching address.
func NewFirewall(address string) (Firewall, error) {
	proto := iptables.ProtocolIPv4
	if ip := net.ParseIP(address); ip != nil && ip.To4() == nil {
		proto = iptables.ProtocolIPv6
	}
	return iptables.NewWithProtocol(proto)
}

// Partition drops every outgoing packet toward Address, simulating a
// network split between source and destination. Release deletes the rule.
type Partition struct {
	Address string
	// Firewall defaults to NewFirewall(Address).
	Firewall Firewall
}

func (p *Partition) Name() string        { return "partition/" + p.Address }
func (p *Partition) Kind() registry.Kind { return registry.KindModifiedConfig }

func (p *Partition) rule() []string {
	return []string{"-d", p.Address, "-j", "DROP", "-m", "comment", "--comment", "virtmig partition"}
}

func (p *Partition) Acquire(context.Context) (registry.ReleaseFunc, error) {
	if net.ParseIP(p.Address) == nil {
		if _, _, err := net.ParseCIDR(p.Address); err != nil {
			return nil, fmt.Errorf("%w: %q", errInvalidAddress, p.Address)
		}
	}

	fw := p.Firewall
	if fw == nil {
		var err error
		if fw, err = NewFirewall(p.Address); err != nil {
			return nil, err
		}
	}

	rule := p.rule()
	exists, err := fw.Exists(filterTable, outputChain, rule...)
	if err != nil {
		return nil, err
	}
	if exists {
		// owned by someone else
		return nil, nil
	}

	if err := fw.Insert(filterTable, outputChain, 1, rule...); err != nil {
		return nil, err
	}
	return func(context.Context) error {
		return fw.Delete(filterTable, outputChain, rule...)
	}, nil
}
