package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/store"
)

// seedFile is the YAML layout accepted by `tollgate seed`.
type seedFile struct {
	Organizations []seedOrg    `yaml:"organizations"`
	Memberships   []seedMember `yaml:"memberships"`
}

type seedOrg struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type seedMember struct {
	Actor string `yaml:"actor"`
	Org   string `yaml:"org"`
	Role  string `yaml:"role"`
	Tier  *int   `yaml:"tier"`
}

func newSeedCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load organizations and memberships from a YAML file",
		Example: `  organizations:
    - {id: acme, name: Acme}
  memberships:
    - {actor: olivia, org: acme, role: owner}
    - {actor: sam, org: acme, role: staff, tier: 4}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var sf seedFile
			if err := yaml.Unmarshal(data, &sf); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			orgs, members, err := seed(ctx, a.store, &sf)
			if err != nil {
				return err
			}
			fmt.Printf("seeded %d organizations, %d memberships\n", orgs, members)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "seed file")
	return cmd
}

func seed(ctx context.Context, st store.Seeder, sf *seedFile) (int, int, error) {
	for _, o := range sf.Organizations {
		if o.ID == "" {
			return 0, 0, fmt.Errorf("organization without id")
		}
		name := o.Name
		if name == "" {
			name = o.ID
		}
		if err := st.CreateOrganization(ctx, models.Organization{ID: o.ID, Name: name}); err != nil {
			return 0, 0, fmt.Errorf("create organization %s: %w", o.ID, err)
		}
	}
	for _, m := range sf.Memberships {
		if m.Actor == "" || m.Org == "" {
			return 0, 0, fmt.Errorf("membership needs actor and org")
		}
		err := st.AddMembership(ctx, models.Membership{
			ActorID:        m.Actor,
			OrganizationID: m.Org,
			Role:           models.ParseRole(m.Role),
			PermissionTier: m.Tier,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("add membership %s/%s: %w", m.Org, m.Actor, err)
		}
	}
	return len(sf.Organizations), len(sf.Memberships), nil
}
