//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/peersync/internal/config"
	"github.com/zeusync/peersync/internal/node"
)

func InitializeNode(cfg *config.Config) (*node.Node, error) {
	wire.Build(node.ProviderSet)
	return nil, nil
}
