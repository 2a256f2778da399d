package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Personnel record ids are the ids of the matching users records, so
// "id = @request.auth.id" scopes a principal to their own profile.
const (
	ownProfile   = "id = @request.auth.id"
	ownRow       = "personnel_id = @request.auth.id"
	signedIn     = "@request.auth.id != ''"
	ownNewRow    = "@request.body.personnel_id = @request.auth.id"
	batchMaxReqs = 50

	// only the owner may move the status, never the ownership, and only
	// while the row has not gone active
	assignmentUpdateRule = ownRow +
		" && @request.body.personnel_id:isset = false" +
		" && @request.body.beat_id:isset = false" +
		" && (acceptance_status = 'pending' || acceptance_status = 'accepted')"

	// a late upsert carrying an older fix never replaces a newer one
	locationUpdateRule = ownRow +
		" && (@request.body.personnel_id:isset = false || " + ownNewRow + ")" +
		" && @request.body.updated_at >= updated_at"
)

func init() {
	core.AppMigrations.Register(func(app core.App) error {
		personnel := core.NewBaseCollection("personnel")
		personnel.ListRule = types.Pointer(ownProfile)
		personnel.ViewRule = types.Pointer(ownProfile)
		personnel.Fields.Add(
			&core.TextField{Name: "rank", Max: 64},
			&core.TextField{Name: "full_name", Required: true, Max: 255},
			&core.EmailField{Name: "email", Required: true},
			&core.TextField{Name: "contact_number", Max: 32},
			&core.TextField{Name: "province", Max: 128},
			&core.TextField{Name: "unit", Max: 128},
			&core.TextField{Name: "sub_unit", Max: 128},
			&core.BoolField{Name: "is_active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		personnel.AddIndex("idx_personnel_email", true, "email", "")
		if err := app.Save(personnel); err != nil {
			return err
		}

		beats := core.NewBaseCollection("beats")
		beats.ListRule = types.Pointer(signedIn)
		beats.ViewRule = types.Pointer(signedIn)
		beats.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 255},
			&core.TextField{Name: "address", Max: 512},
			&core.NumberField{Name: "center_lat", Min: types.Pointer(-90.0), Max: types.Pointer(90.0)},
			&core.NumberField{Name: "center_lng", Min: types.Pointer(-180.0), Max: types.Pointer(180.0)},
			&core.NumberField{Name: "radius_meters", Min: types.Pointer(0.0)},
			&core.TextField{Name: "unit", Max: 128},
			&core.TextField{Name: "sub_unit", Max: 128},
			&core.TextField{Name: "beat_status", Max: 32},
			&core.TextField{Name: "duty_start_time", Max: 8, Pattern: `^\d{2}:\d{2}(:\d{2})?$`},
			&core.TextField{Name: "duty_end_time", Max: 8, Pattern: `^\d{2}:\d{2}(:\d{2})?$`},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(beats); err != nil {
			return err
		}

		assignments := core.NewBaseCollection("beat_personnel")
		assignments.ListRule = types.Pointer(ownRow)
		assignments.ViewRule = types.Pointer(ownRow)
		assignments.UpdateRule = types.Pointer(assignmentUpdateRule)
		assignments.Fields.Add(
			&core.RelationField{Name: "personnel_id", Required: true, CollectionId: personnel.Id, MaxSelect: 1, CascadeDelete: true},
			&core.RelationField{Name: "beat_id", Required: true, CollectionId: beats.Id, MaxSelect: 1, CascadeDelete: true},
			&core.SelectField{Name: "acceptance_status", MaxSelect: 1, Values: []string{"pending", "accepted", "active", "completed"}},
			&core.DateField{Name: "assigned_at"},
			&core.DateField{Name: "accepted_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		assignments.AddIndex("idx_beat_personnel_personnel", false, "personnel_id", "")
		if err := app.Save(assignments); err != nil {
			return err
		}

		locations := core.NewBaseCollection("personnel_locations")
		locations.ListRule = types.Pointer(ownRow)
		locations.ViewRule = types.Pointer(ownRow)
		locations.CreateRule = types.Pointer(ownNewRow + " && @request.body.id = @request.auth.id")
		locations.UpdateRule = types.Pointer(locationUpdateRule)
		locations.DeleteRule = types.Pointer(ownRow)
		locations.Fields.Add(
			&core.RelationField{Name: "personnel_id", Required: true, CollectionId: personnel.Id, MaxSelect: 1, CascadeDelete: true},
			&core.NumberField{Name: "latitude", Min: types.Pointer(-90.0), Max: types.Pointer(90.0)},
			&core.NumberField{Name: "longitude", Min: types.Pointer(-180.0), Max: types.Pointer(180.0)},
			&core.NumberField{Name: "accuracy", Min: types.Pointer(0.0)},
			&core.DateField{Name: "updated_at", Required: true},
		)
		// one current row per principal
		locations.AddIndex("idx_personnel_locations_personnel", true, "personnel_id", "")
		if err := app.Save(locations); err != nil {
			return err
		}

		// location upserts go through /api/batch
		settings := app.Settings()
		settings.Batch.Enabled = true
		if settings.Batch.MaxRequests < batchMaxReqs {
			settings.Batch.MaxRequests = batchMaxReqs
		}
		return app.Save(settings)
	}, func(app core.App) error {
		for _, name := range []string{"personnel_locations", "beat_personnel", "beats", "personnel"} {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				return err
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}
		return nil
	})
}
