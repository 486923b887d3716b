package registry

import (
	logdelegate "github.com/dukex/bpmnvm/pkg/delegates/log"
	"github.com/dukex/bpmnvm/pkg/delegates/setvariables"
	"github.com/dukex/bpmnvm/pkg/delegates/throwerror"
)

// RegisterDefaultDelegates registers all built-in delegate factories with the registry.
func (r *Registry) RegisterDefaultDelegates() {
	r.RegisterDelegate(logdelegate.NewDelegateFactory())

	r.RegisterDelegate(setvariables.NewDelegateFactory())

	r.RegisterDelegate(throwerror.NewDelegateFactory())
}
