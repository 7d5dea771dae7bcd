package media

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/casalist/casalist/internal/database"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrImageNotFound  = errors.New("image does not exist")
	ErrForeignImages  = errors.New("one or more images do not belong to the given house")
	ErrDuplicateOrder = errors.New("duplicate image ID in reorder request")
)

type (
	// Image is a catalog row describing one processed, stored photo of a
	// house. The database is authoritative for image existence; the file
	// at Path holds the durable bytes.
	Image struct {
		ID           uuid.UUID `db:"id" json:"id"`
		HouseID      int64     `db:"house_id" json:"houseId"`
		Filename     string    `db:"filename" json:"filename"`
		OriginalName string    `db:"original_name" json:"originalName"`
		Path         string    `db:"path" json:"path"`
		URL          string    `db:"url" json:"url"`
		Size         int64     `db:"size" json:"size"`
		MimeType     string    `db:"mime_type" json:"mimeType"`
		Width        int       `db:"width" json:"width"`
		Height       int       `db:"height" json:"height"`
		IsMain       bool      `db:"is_main" json:"isMain"`
		SortOrder    int       `db:"sort_order" json:"order"`
		CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	}

	// ImageOrder pairs an image with its requested list position.
	ImageOrder struct {
		ID        uuid.UUID `json:"id"`
		SortOrder int       `json:"order"`
	}

	// ImageStore is the database-backed image catalog for houses. All
	// multi-row mutations run inside a single transaction; the
	// exactly-one-main invariant depends on it.
	ImageStore struct {
		db database.Manager
	}
)

func NewImageStore(db database.Manager) *ImageStore {
	return &ImageStore{db: db}
}

func (store *ImageStore) Save(image *Image) error {
	_, err := store.db.GetSqlxDb().NamedExec(`
		INSERT INTO house_images(id, house_id, filename, original_name, path, url, size, mime_type, width, height, is_main, sort_order, created_at)
		VALUES (:id, :house_id, :filename, :original_name, :path, :url, :size, :mime_type, :width, :height, :is_main, :sort_order, :created_at)
	`, image)
	if err != nil {
		return fmt.Errorf("failed to insert image row: %w", err)
	}

	return nil
}

// ListForHouse returns the house's images ordered main-first, then by
// caller-assigned position, then by insertion time. This exact tie-break
// keeps gallery rendering stable across requests.
func (store *ImageStore) ListForHouse(houseID int64) ([]*Image, error) {
	return imagesForHouse(store.db.GetSqlxDb(), houseID)
}

func imagesForHouse(q database.Queryable, houseID int64) ([]*Image, error) {
	query, args, err := squirrel.
		Select("*").
		From("house_images").
		Where("house_id=?", houseID).
		OrderBy("is_main DESC", "sort_order ASC", "created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct list images query: %w", err)
	}

	results := make([]*Image, 0)
	if err := q.Select(&results, q.Rebind(query), args...); err != nil {
		return nil, err
	}

	return results, nil
}

func (store *ImageStore) Get(id uuid.UUID) (*Image, error) {
	db := store.db.GetSqlxDb()

	var image Image
	if err := db.Get(&image, `SELECT * FROM house_images WHERE id=$1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrImageNotFound
		}

		return nil, err
	}

	return &image, nil
}

func (store *ImageStore) CountForHouse(houseID int64) (int, error) {
	var count int
	if err := store.db.GetSqlxDb().Get(&count, `SELECT COUNT(*) FROM house_images WHERE house_id=$1`, houseID); err != nil {
		return 0, err
	}

	return count, nil
}

// SetMain flips the main flag to the given image. The clear and the set
// happen inside ONE transaction; implementing this as two independent
// writes could strand the house with zero main images if the second
// write failed.
func (store *ImageStore) SetMain(imageID uuid.UUID, houseID int64) error {
	return store.db.WrapTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`UPDATE house_images SET is_main=FALSE WHERE house_id=$1`, houseID); err != nil {
			return fmt.Errorf("failed to clear main image for house %d: %w", houseID, err)
		}

		result, err := tx.Exec(`UPDATE house_images SET is_main=TRUE WHERE id=$1 AND house_id=$2`, imageID, houseID)
		if err != nil {
			return fmt.Errorf("failed to set main image %s: %w", imageID, err)
		}

		if affected, err := result.RowsAffected(); err != nil {
			return err
		} else if affected != 1 {
			return ErrImageNotFound
		}

		return nil
	})
}

// Reorder applies the given positions in a single transaction. Every
// supplied ID is verified to belong to the claimed house before any row
// is touched; a reorder request naming a foreign image fails wholesale.
func (store *ImageStore) Reorder(houseID int64, orders []ImageOrder) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(orders))
	seen := make(map[uuid.UUID]struct{}, len(orders))
	for k, v := range orders {
		if _, ok := seen[v.ID]; ok {
			return ErrDuplicateOrder
		}

		seen[v.ID] = struct{}{}
		ids[k] = v.ID
	}

	return store.db.WrapTx(func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In(`SELECT COUNT(*) FROM house_images WHERE house_id=? AND id IN (?)`, houseID, ids)
		if err != nil {
			return err
		}

		var owned int
		if err := tx.Get(&owned, tx.Rebind(query), args...); err != nil {
			return err
		}

		if owned != len(orders) {
			return ErrForeignImages
		}

		for _, order := range orders {
			if _, err := tx.Exec(`UPDATE house_images SET sort_order=$1 WHERE id=$2`, order.SortOrder, order.ID); err != nil {
				return fmt.Errorf("failed to reorder image %s: %w", order.ID, err)
			}
		}

		return nil
	})
}

// Delete removes the catalog row for the given image. The callers are
// responsible for any file unlinking; the row delete is unconditional so
// a missing backing file can never strand a row.
func (store *ImageStore) Delete(id uuid.UUID) error {
	result, err := store.db.GetSqlxDb().Exec(`DELETE FROM house_images WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete image row %s: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return ErrImageNotFound
	}

	return nil
}

// DeleteForHouse removes every catalog row belonging to the house,
// returning the rows that were deleted so callers can unlink their
// backing files.
func (store *ImageStore) DeleteForHouse(houseID int64) ([]*Image, error) {
	var deleted []*Image
	err := store.db.WrapTx(func(tx *sqlx.Tx) error {
		rows, err := imagesForHouse(tx, houseID)
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for k, v := range rows {
			ids[k] = v.ID
		}

		if err := database.InExec(tx, `DELETE FROM house_images WHERE id IN (?)`, ids); err != nil {
			return fmt.Errorf("failed to delete image rows for house %d: %w", houseID, err)
		}

		deleted = rows
		return nil
	})
	if err != nil {
		return nil, err
	}

	return deleted, nil
}
