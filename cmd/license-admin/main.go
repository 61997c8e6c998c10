package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"license-server/config"
	"license-server/internal/database"
	"license-server/internal/license"
)

func main() {
	fmt.Println("========================================")
	fmt.Println(" License Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Generate single license key")
		fmt.Println("  2. Generate batch license keys")
		fmt.Println("  3. Validate a license key")
		fmt.Println("  4. Show license type info")
		fmt.Println("  5. Purge old verification logs")
		fmt.Println("  6. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			generateSingleKey(reader)
		case "2":
			generateBatchKeys(reader)
		case "3":
			validateKey(reader)
		case "4":
			showLicenseInfo()
		case "5":
			purgeOldLogs(reader)
		case "6":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

func selectType(reader *bufio.Reader) (license.Type, bool) {
	fmt.Println("License types:")
	fmt.Println("  1. Regular   (1 domain, 1 year)")
	fmt.Println("  2. Extended  (5 domains, 1 year)")
	fmt.Println("  3. Developer (unlimited domains, no expiry)")
	fmt.Println("  4. Trial     (1 domain, 14 days)")
	fmt.Print("Select type (1-4): ")

	input, _ := reader.ReadString('\n')
	switch strings.TrimSpace(input) {
	case "1":
		return license.TypeRegular, true
	case "2":
		return license.TypeExtended, true
	case "3":
		return license.TypeDeveloper, true
	case "4":
		return license.TypeTrial, true
	default:
		return "", false
	}
}

func generateSingleKey(reader *bufio.Reader) {
	fmt.Println("\n--- Generate License Key ---")

	typ, ok := selectType(reader)
	if !ok {
		fmt.Println("Invalid type, defaulting to Regular")
		typ = license.TypeRegular
	}

	key, err := license.GenerateKey(typ)
	if err != nil {
		fmt.Printf("Failed to generate key: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  License Type: %s\n", typ)
	fmt.Printf("  License Key:  %s\n", key)
	fmt.Printf("  Generated:    %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Println("========================================")
	fmt.Println("\nNote: the key is not registered until it is created")
	fmt.Println("through the admin API (POST /api/admin/licenses).")

	// Optionally save to file
	fmt.Print("\nSave to file? (y/n): ")
	save, _ := reader.ReadString('\n')
	if strings.TrimSpace(strings.ToLower(save)) == "y" {
		filename := fmt.Sprintf("license_%s_%s.txt", typ, time.Now().Format("20060102_150405"))
		content := fmt.Sprintf("License Type: %s\nLicense Key: %s\nGenerated: %s\n",
			typ, key, time.Now().Format("2006-01-02 15:04:05"))
		os.WriteFile(filename, []byte(content), 0644)
		fmt.Printf("Saved to: %s\n", filename)
	}
}

func generateBatchKeys(reader *bufio.Reader) {
	fmt.Println("\n--- Generate Batch License Keys ---")

	typ, ok := selectType(reader)
	if !ok {
		fmt.Println("Invalid type")
		return
	}

	fmt.Print("How many keys to generate? ")
	countInput, _ := reader.ReadString('\n')
	count, err := strconv.Atoi(strings.TrimSpace(countInput))
	if err != nil || count < 1 || count > 100 {
		fmt.Println("Invalid count (1-100)")
		return
	}

	fmt.Printf("\nGenerating %d %s license keys...\n", count, typ)
	fmt.Println("========================================")

	keys := make([]string, 0, count)
	for i := 0; i < count; i++ {
		key, err := license.GenerateKey(typ)
		if err != nil {
			fmt.Printf("Failed to generate key: %v\n", err)
			return
		}
		keys = append(keys, key)
		fmt.Printf("  %d. %s\n", i+1, key)
	}
	fmt.Println("========================================")

	// Save to file
	filename := fmt.Sprintf("licenses_%s_%s.txt", typ, time.Now().Format("20060102_150405"))
	var content strings.Builder
	content.WriteString(fmt.Sprintf("# %s License Keys\n", typ))
	content.WriteString(fmt.Sprintf("# Generated: %s\n", time.Now().Format("2006-01-02 15:04:05")))
	content.WriteString(fmt.Sprintf("# Count: %d\n\n", count))
	for i, key := range keys {
		content.WriteString(fmt.Sprintf("%d. %s\n", i+1, key))
	}
	os.WriteFile(filename, []byte(content.String()), 0644)
	fmt.Printf("\nSaved to: %s\n", filename)
}

func validateKey(reader *bufio.Reader) {
	fmt.Println("\n--- Validate License Key ---")
	fmt.Print("Enter license key: ")

	raw, _ := reader.ReadString('\n')
	key := license.NormalizeKey(raw)

	typ, err := license.ValidateKeyFormat(key)

	fmt.Println("\n========================================")
	if err != nil {
		fmt.Printf("  Status:  INVALID\n")
		fmt.Printf("  Error:   %s\n", err)
	} else {
		defaults := license.DefaultsFor(typ)
		fmt.Printf("  Status:  WELL FORMED\n")
		fmt.Printf("  Type:    %s\n", typ)
		if defaults.MaxDomains == license.UnlimitedDomains {
			fmt.Printf("  Domains: unlimited\n")
		} else {
			fmt.Printf("  Domains: %d max\n", defaults.MaxDomains)
		}
		fmt.Println("\n  Format and checksum only. Whether the key is")
		fmt.Println("  registered and active is decided by the server.")
	}
	fmt.Println("========================================")
}

func showLicenseInfo() {
	fmt.Println("\n========================================")
	fmt.Println(" License Types Overview")
	fmt.Println("========================================")

	for _, typ := range []license.Type{
		license.TypeRegular,
		license.TypeExtended,
		license.TypeDeveloper,
		license.TypeTrial,
	} {
		defaults := license.DefaultsFor(typ)

		fmt.Printf("\n%s\n", strings.ToUpper(string(typ)))
		if defaults.MaxDomains == license.UnlimitedDomains {
			fmt.Println("  Domains:  unlimited")
		} else {
			fmt.Printf("  Domains:  %d\n", defaults.MaxDomains)
		}
		if defaults.DurationDays == 0 {
			fmt.Println("  Duration: no expiry")
		} else {
			fmt.Printf("  Duration: %d days\n", defaults.DurationDays)
		}
		fmt.Printf("  Support:  %d days\n", defaults.SupportDays)
		fmt.Printf("  Grace:    %d days\n", defaults.GracePeriodDays)
	}
	fmt.Println()
}

func purgeOldLogs(reader *bufio.Reader) {
	fmt.Println("\n--- Purge Old Verification Logs ---")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	retentionDays := cfg.LicenseConfig.LogRetentionDays
	fmt.Printf("Retention period [%d days]: ", retentionDays)
	input, _ := reader.ReadString('\n')
	if trimmed := strings.TrimSpace(input); trimmed != "" {
		days, err := strconv.Atoi(trimmed)
		if err != nil || days < 1 {
			fmt.Println("Invalid retention period")
			return
		}
		retentionDays = days
	}

	fmt.Printf("Delete verification logs older than %d days? (y/n): ", retentionDays)
	confirm, _ := reader.ReadString('\n')
	if strings.TrimSpace(strings.ToLower(confirm)) != "y" {
		fmt.Println("Aborted")
		return
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	audit := database.NewAuditRepository(db)
	deleted, err := audit.PurgeOldLogs(ctx, time.Duration(retentionDays)*24*time.Hour)
	if err != nil {
		fmt.Printf("Purge failed: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Deleted: %d log entries\n", deleted)
	fmt.Printf("  Cutoff:  %s\n", time.Now().AddDate(0, 0, -retentionDays).Format("2006-01-02"))
	fmt.Println("========================================")
}
