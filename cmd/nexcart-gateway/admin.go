// ABOUTME: Offline administration commands that work on the gateway database directly
// ABOUTME: Adds support agents and imports the product catalog from YAML

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/nexcart/nexcart-gateway/internal/config"
	"github.com/nexcart/nexcart-gateway/internal/gateway"
	"github.com/nexcart/nexcart-gateway/internal/store"
)

func openStore() (*store.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runAgent(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "add" {
		return fmt.Errorf("usage: nexcart-gateway agent add --username U --name N [--role agent|editor|admin]")
	}

	fs := flag.NewFlagSet("agent add", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	name := fs.String("name", "", "name shown to visitors")
	role := fs.String("role", store.AgentRoleAgent, "agent, editor or admin")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *username == "" {
		return fmt.Errorf("--username is required")
	}

	password, err := readPassword(os.Stdin)
	if err != nil {
		return err
	}

	agent, err := gateway.NewAgent(*username, *name, password, *role)
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("agent %q already exists", *username)
		}
		return fmt.Errorf("creating agent: %w", err)
	}

	color.Green("  ✓ Created %s %q (%s)", agent.Role, agent.Username, agent.ID)
	return nil
}

// readPassword takes the first line of r. Interactive use pipes it in:
// `read -s PW; echo "$PW" | nexcart-gateway agent add ...`.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("password must be given on stdin")
	}
	return pw, nil
}

// catalogFile is the YAML layout accepted by `products import`.
type catalogFile struct {
	Products []struct {
		Slug             string  `yaml:"slug"`
		Name             string  `yaml:"name"`
		Price            float64 `yaml:"price"`
		URL              string  `yaml:"url"`
		ImageURL         string  `yaml:"image_url"`
		ShortDescription string  `yaml:"short_description"`
		TotalSales       int     `yaml:"total_sales"`
	} `yaml:"products"`
}

func parseCatalog(data []byte) ([]*store.Product, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	products := make([]*store.Product, 0, len(f.Products))
	for i, p := range f.Products {
		if p.Slug == "" || p.Name == "" {
			return nil, fmt.Errorf("product %d: slug and name are required", i+1)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("product %q: negative price", p.Slug)
		}
		products = append(products, &store.Product{
			Slug:             p.Slug,
			Name:             p.Name,
			Price:            p.Price,
			URL:              p.URL,
			ImageURL:         p.ImageURL,
			ShortDescription: p.ShortDescription,
			TotalSales:       p.TotalSales,
		})
	}
	return products, nil
}

func runProducts(ctx context.Context, args []string) error {
	if len(args) != 2 || args[0] != "import" {
		return fmt.Errorf("usage: nexcart-gateway products import FILE.yaml")
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}
	products, err := parseCatalog(data)
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, p := range products {
		if err := s.UpsertProduct(ctx, p); err != nil {
			return fmt.Errorf("importing %q: %w", p.Slug, err)
		}
	}

	color.Green("  ✓ Imported %d products", len(products))
	return nil
}
