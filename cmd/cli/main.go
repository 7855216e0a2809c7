package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/models"
	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/store"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:          "shopctl",
	Short:        "Administer the CheapPCGames.pk store database",
	SilenceUsage: true,
}

func openStore() (*store.Store, error) {
	db, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Ensure tables exist if running the cli before the server
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

var addUserCmd = &cobra.Command{
	Use:   "add-user",
	Short: "Create a staff account",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		if err := db.CreateUser(cmd.Context(), username, string(hashedPassword)); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "User '%s' created successfully.\n", username)
		return nil
	},
}

var addItemCmd = &cobra.Command{
	Use:   "add-item",
	Short: "Add a catalog item",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		title, _ := flags.GetString("title")
		category, _ := flags.GetString("category")
		priceStr, _ := flags.GetString("price")
		originalStr, _ := flags.GetString("original-price")
		description, _ := flags.GetString("description")
		instructions, _ := flags.GetString("instructions")

		item := &models.CatalogItem{
			Title:        title,
			Category:     models.Category(category),
			Description:  description,
			Instructions: instructions,
		}
		if !item.Category.Valid() {
			return fmt.Errorf("unknown category %q", category)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil || !price.IsPositive() {
			return fmt.Errorf("price must be a positive number, got %q", priceStr)
		}
		item.Price = price
		if originalStr != "" {
			op, err := decimal.NewFromString(originalStr)
			if err != nil {
				return fmt.Errorf("invalid original price %q", originalStr)
			}
			item.OriginalPrice = &op
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.CreateItem(cmd.Context(), item); err != nil {
			return fmt.Errorf("failed to create item: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Item %d '%s' created.\n", item.ID, item.Title)
		return nil
	},
}

var importKeysCmd = &cobra.Command{
	Use:   "import-keys <item-id> [file]",
	Short: "Import product keys, one per line, from a file or stdin",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := parseItemID(args[0])
		if err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if len(args) == 2 && args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		var secrets []string
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			secrets = append(secrets, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read keys: %w", err)
		}

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if _, err := db.GetItemByID(cmd.Context(), itemID); err != nil {
			return fmt.Errorf("item %d: %w", itemID, err)
		}
		added, err := db.ImportKeys(cmd.Context(), itemID, secrets)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d new key(s) added to item %d.\n", added, itemID)
		return nil
	},
}

var addCredentialCmd = &cobra.Command{
	Use:   "add-credential <item-id>",
	Short: "Append an account to an item's credential pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := parseItemID(args[0])
		if err != nil {
			return err
		}
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		notes, _ := cmd.Flags().GetString("notes")

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		item, err := db.GetItemByID(cmd.Context(), itemID)
		if err != nil {
			return fmt.Errorf("item %d: %w", itemID, err)
		}
		if !item.Category.UsesCredentialPool() {
			return fmt.Errorf("item %d is a %s item and is fulfilled with keys", itemID, item.Category.Label())
		}

		c := &models.Credential{CatalogItemID: itemID, Username: username, Password: password, Notes: notes}
		if err := db.AddCredential(cmd.Context(), c); err != nil {
			return fmt.Errorf("failed to add credential: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Credential %d added to item %d.\n", c.ID, itemID)
		return nil
	},
}

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Show remaining keys and pool sizes per item",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetDashboardStats(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tFREE KEYS\tPOOL\tORDER LINES")
		for _, s := range stats.ItemStock {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\n", s.ItemID, s.Title, s.Category, s.FreeKeys, s.PoolSize, s.OrderLines)
		}
		return w.Flush()
	},
}

func init() {
	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./store.db"
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to the SQLite database (env DB_PATH)")

	addUserCmd.Flags().String("username", "", "Username for the new user")
	addUserCmd.Flags().String("password", "", "Password for the new user")
	addUserCmd.MarkFlagRequired("username")
	addUserCmd.MarkFlagRequired("password")

	addItemCmd.Flags().String("title", "", "Item title")
	addItemCmd.Flags().String("category", string(models.CategoryOfflineAccount), "offline-account, online-account or account-rent")
	addItemCmd.Flags().String("price", "", "Price in rupees")
	addItemCmd.Flags().String("original-price", "", "Price before discount")
	addItemCmd.Flags().String("description", "", "Description shown in the catalog")
	addItemCmd.Flags().String("instructions", "", "Instructions shown with the delivered item")
	addItemCmd.MarkFlagRequired("title")
	addItemCmd.MarkFlagRequired("price")

	addCredentialCmd.Flags().String("username", "", "Account username")
	addCredentialCmd.Flags().String("password", "", "Account password")
	addCredentialCmd.Flags().String("notes", "", "Notes delivered with the account")
	addCredentialCmd.MarkFlagRequired("username")
	addCredentialCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(addUserCmd, addItemCmd, importKeysCmd, addCredentialCmd, stockCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
