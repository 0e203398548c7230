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
		log.Println("creating validator_stats table...")
		return mghelper.CreateSchema(ctx, db, &dao.ValidatorCounterDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping validator_stats table...")
		return mghelper.DropTables(ctx, db, &dao.ValidatorCounterDao{})
	})
}
