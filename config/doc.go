// Package config holds the option structs of engine calls and translates
// them into the engine's flat layouts.
//
// Every option struct is plain Go data whose zero value means "engine
// defaults". Fields that point at memory are option nodes from package
// arena; callback fields come from package callback. Translate resolves the
// whole tree against one callback.Scope, placing owned data in the scope's
// arena, and fails before the engine call when a field is inconsistent:
//
//	scope := dispatcher.NewScope(a)
//	f, err := opts.Translate(ctx, scope)
//
// File is the serializable subset of LoadOpts read from YAML or JSON
// option files.
package config
