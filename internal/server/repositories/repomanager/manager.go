package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/getkey/internal/dbx"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/plans"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/resources"
	"github.com/dmitrijs2005/getkey/internal/server/repositories/sessions"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Resources(db dbx.DBTX) resources.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	Plans(db dbx.DBTX) plans.Repository
}
