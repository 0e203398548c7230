package bridgedb

import (
	"context"
	"log"

	mghelper "github.com/chainsafe/l0l1-bridge-validator/pkg/pgutil/migrations"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/store/dao"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating transfers table...")
		return mghelper.CreateSchema(ctx, db, &dao.TransferDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping transfers table...")
		return mghelper.DropTables(ctx, db, &dao.TransferDao{})
	})
}
