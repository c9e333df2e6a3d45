package main

import (
	"fmt"
	"os"

	"tradedesk/config"
	"tradedesk/crypto"
	"tradedesk/logger"
	"tradedesk/store"

	"github.com/joho/godotenv"
)

// Encrypts exchange credentials stored before DATA_ENCRYPTION_KEY was set.
// Usage: migrate_credentials [db path]
func main() {
	_ = godotenv.Load()
	logger.Info("🔄 Migrating exchange credentials to encrypted storage...")

	dbPath := config.Get().DBPath
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		logger.Fatalf("❌ Database file does not exist: %s", dbPath)
	}

	backupPath := fmt.Sprintf("%s.pre_encryption_backup", dbPath)
	logger.Infof("📦 Backing up database to: %s", backupPath)
	input, err := os.ReadFile(dbPath)
	if err != nil {
		logger.Fatalf("❌ Failed to read database: %v", err)
	}
	if err := os.WriteFile(backupPath, input, 0600); err != nil {
		logger.Fatalf("❌ Backup failed: %v", err)
	}

	cs, err := crypto.NewCryptoService()
	if err != nil {
		logger.Fatalf("❌ Failed to initialize crypto service: %v", err)
	}

	st, err := store.New(dbPath)
	if err != nil {
		logger.Fatalf("❌ Failed to open database: %v", err)
	}
	defer st.Close()
	st.SetCryptoFuncs(cs.StorageFuncs())

	n, err := st.Exchange().EncryptPlaintext(cs.IsEncryptedStorageValue)
	if err != nil {
		logger.Fatalf("❌ Migration failed: %v", err)
	}

	logger.Infof("✅ Encrypted %d exchange accounts", n)
	logger.Infof("📝 Original data backed up at: %s", backupPath)
	logger.Warn("⚠️  Delete the backup manually once everything works")
}
