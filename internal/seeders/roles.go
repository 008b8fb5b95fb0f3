package seeders

import (
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"compliance-service/internal/models"
)

// SeedSystemRoles creates or updates the built-in roles. The compliance
// roles each hold exactly one stage flag per chain, so the sequential
// sign-off requires three distinct people unless an admin steps in.
func SeedSystemRoles(db *gorm.DB) error {
	fullClient := models.ClientPermissions{
		CompanyDetails: models.EditorViewer{Editor: true, Viewer: true},
		Shareholders:   models.EditorViewer{Editor: true, Viewer: true},
		Directors:      models.EditorViewer{Editor: true, Viewer: true},
		Contacts:       models.EditorViewer{Editor: true, Viewer: true},
	}

	roles := []models.Role{
		{
			Name:        models.RoleAdmin,
			Description: "Full access to every capability, including any approval stage",
			IsSystem:    true,
			Permissions: models.Permissions{
				UserManagement:       true,
				OperationManagement:  true,
				DocumentManagement:   true,
				RenewalManagement:    true,
				ComplianceManagement: true,
				RequestService:       true,
				ClientManagement:     fullClient,
				KYCManagement:        models.StagePermissions{LMRO: true, DLMRO: true, CEO: true},
				BRAManagement:        models.StagePermissions{LMRO: true, DLMRO: true, CEO: true},
			},
		},
		{
			Name:        models.RoleCustomer,
			Description: "External client with read access to their own records",
			IsSystem:    true,
			Permissions: models.Permissions{
				RequestService: true,
				ClientManagement: models.ClientPermissions{
					CompanyDetails: models.EditorViewer{Viewer: true},
					Shareholders:   models.EditorViewer{Viewer: true},
					Directors:      models.EditorViewer{Viewer: true},
					Contacts:       models.EditorViewer{Viewer: true},
				},
			},
		},
		{
			Name:        "compliance_lmro",
			Description: "Money laundering reporting officer, first approval stage",
			IsSystem:    true,
			Permissions: models.Permissions{
				OperationManagement:  true,
				ComplianceManagement: true,
				ClientManagement:     fullClient,
				KYCManagement:        models.StagePermissions{LMRO: true},
				BRAManagement:        models.StagePermissions{LMRO: true},
			},
		},
		{
			Name:        "compliance_dlmro",
			Description: "Deputy money laundering reporting officer, second approval stage",
			IsSystem:    true,
			Permissions: models.Permissions{
				ComplianceManagement: true,
				ClientManagement:     fullClient,
				KYCManagement:        models.StagePermissions{DLMRO: true},
				BRAManagement:        models.StagePermissions{DLMRO: true},
			},
		},
		{
			Name:        "compliance_ceo",
			Description: "Chief executive, final approval stage",
			IsSystem:    true,
			Permissions: models.Permissions{
				ComplianceManagement: true,
				ClientManagement:     fullClient,
				KYCManagement:        models.StagePermissions{CEO: true},
				BRAManagement:        models.StagePermissions{CEO: true},
			},
		},
	}

	for _, role := range roles {
		// Use upsert (ON CONFLICT DO UPDATE) to create or update
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "permissions", "updated_at"}),
		}).Create(&role)

		if result.Error != nil {
			log.Printf("Failed to seed role %s: %v", role.Name, result.Error)
			return result.Error
		}
		log.Printf("Seeded role: %s", role.Name)
	}

	return nil
}
