package postgres

import (
	"github.com/minerva-erp/glcore/internal/importer"
	"github.com/minerva-erp/glcore/internal/service/aggregate"
	"github.com/minerva-erp/glcore/internal/service/dimension"
	"github.com/minerva-erp/glcore/internal/service/directory"
	"github.com/minerva-erp/glcore/internal/service/posting"
	"github.com/minerva-erp/glcore/internal/service/recon"
)

// Compile-time interface assertions documenting which interfaces Store
// satisfies.
var (
	_ posting.Repo     = (*Store)(nil)
	_ posting.Writer   = (*Store)(nil)
	_ aggregate.Reader = (*Store)(nil)
	_ directory.Repo   = (*Store)(nil)
	_ directory.Writer = (*Store)(nil)
	_ dimension.Reader = (*Store)(nil)
	_ recon.Repo       = (*Store)(nil)
	_ recon.Writer     = (*Store)(nil)
	_ recon.Directory  = (*Store)(nil)
	_ importer.Store   = (*Store)(nil)
)
