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
	"fmt"
	"strings"

	"github.com/alexandremahdhaoui/virtmig/pkg/registry"
)

// Process spawns a helper (e.g. a memory load generator) on Host for the
// duration of the scenario. Release stops it.
type Process struct {
	Host    Host
	Command []string
}

func (p *Process) Name() string {
	return fmt.Sprintf("process/%s:%s", p.Host.Name(), strings.Join(p.Command, " "))
}
func (p *Process) Kind() registry.Kind { return registry.KindSpawnedProcess }

func (p *Process) Acquire(ctx context.Context) (registry.ReleaseFunc, error) {
	stop, err := p.Host.Start(ctx, p.Command...)
	if err != nil {
		return nil, err
	}
	return registry.ReleaseFunc(stop), nil
}
