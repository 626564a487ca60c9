package repository

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&ApplicationModel{},
		&ModuleModel{},
		&ModuleEnvironmentModel{},
		&DeploymentModel{},
		&BuildProcessModel{},
		&BuildModel{},
		&ReleaseModel{},
		&ProcessModel{},
		&ProcessOverlayModel{},
		&ConfigVarModel{},
		&MountModel{},
		&DeployHookModel{},
		&BkAppRevisionModel{},
		&AddonServiceModel{},
		&AddonPlanModel{},
		&BindingPolicyModel{},
		&ServiceModuleAttachmentModel{},
		&ServiceEngineAppAttachmentModel{},
		&ServiceInstanceModel{},
		&UnboundAttachmentModel{},
	); err != nil {
		return nil, err
	}

	return db, nil
}
