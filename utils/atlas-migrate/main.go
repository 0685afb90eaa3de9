// Package main - Atlas GORM migration support binary
package main

import (
	"fmt"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/alwitt/proxykey/db"
	"github.com/apex/log"
)

func main() {
	dialect := "postgres"
	if len(os.Args) > 1 {
		dialect = os.Args[1]
	}

	stmts, err := gormschema.New(dialect).Load(
		&db.SecretDBEntry{},
		&db.AuditEntryDBEntry{},
		&db.RateWindowDBEntry{},
		&db.BanRecordDBEntry{},
		&db.KVDBEntry{},
		&db.NotificationDBEntry{},
	)
	if err != nil {
		log.WithError(err).WithField("dialect", dialect).Fatal("Failed to load GORM models")
	}
	fmt.Printf("%s\n", stmts)
}
