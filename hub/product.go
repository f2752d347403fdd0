package hub

import "errors"

// ProductEntity is a published deliverable grouped under a folder.
type ProductEntity struct {
	*baseEntity

	productType     string
	origProductType string
}

var productCaps = capabilities{
	name: true,
	tags: true,
}

// ProductSeed are the constructor arguments of a product entity.
type ProductSeed struct {
	Name        string
	ProductType string
	FolderID    ParentRef
	Tags        []string
	Attribs     map[string]any
	Data        map[string]any
	DataKnown   bool
	Active      OptBool
	EntityID    string
	Created     *bool
}

func newProductEntity(h *Hub, seed ProductSeed) (*ProductEntity, error) {
	b, err := newBaseEntity(h, EntityTypeProduct, productCaps, entitySeed{
		entityID:  seed.EntityID,
		parentID:  seed.FolderID,
		attribs:   seed.Attribs,
		data:      seed.Data,
		dataKnown: seed.DataKnown,
		active:    seed.Active,
		created:   seed.Created,
		name:      seed.Name,
		tags:      seed.Tags,
	})
	if err != nil {
		return nil, err
	}
	return &ProductEntity{
		baseEntity:      b,
		productType:     seed.ProductType,
		origProductType: seed.ProductType,
	}, nil
}

func productFromPayload(h *Hub, payload ProductPayload) (*ProductEntity, error) {
	persisted := false
	return newProductEntity(h, ProductSeed{
		Name:        payload.Name,
		ProductType: payload.ProductType,
		FolderID:    Parent(payload.FolderID),
		Tags:        payload.Tags,
		Attribs:     payload.Attrib,
		Data:        payload.Data,
		DataKnown:   payload.Data != nil,
		Active:      Bool(payload.Active),
		EntityID:    payload.ID,
		Created:     &persisted,
	})
}

func (p *ProductEntity) EntityType() EntityType { return EntityTypeProduct }

func (p *ProductEntity) ParentEntityTypes() []EntityType {
	return []EntityType{EntityTypeFolder}
}

func (p *ProductEntity) Name() string        { return p.name }
func (p *ProductEntity) SetName(name string) { p.name = name }

func (p *ProductEntity) ProductType() string { return p.productType }

func (p *ProductEntity) SetProductType(productType string) { p.productType = productType }

// FolderID returns the parent folder reference.
func (p *ProductEntity) FolderID() ParentRef { return p.parentID }

// SetFolderID moves the product under another folder.
func (p *ProductEntity) SetFolderID(folderID string) {
	p.setParentRef(Parent(folderID))
}

func (p *ProductEntity) Tags() []string        { return copyStrings(p.tags) }
func (p *ProductEntity) SetTags(tags []string) { p.tags = copyStrings(tags) }

func (p *ProductEntity) Lock() {
	p.lockBase()
	p.origProductType = p.productType
}

func (p *ProductEntity) Changes() map[string]any {
	changes := p.defaultChanges()
	if p.origParentID != p.parentID {
		folderID, _ := p.parentID.ID()
		changes["folderId"] = folderID
	}
	if p.origProductType != p.productType {
		changes["productType"] = p.productType
	}
	return changes
}

func (p *ProductEntity) CreateBody() (map[string]any, error) {
	folderID, ok := p.parentID.ID()
	if !ok {
		return nil, errors.New("product does not have set folder id")
	}
	output := map[string]any{
		"name":        p.name,
		"productType": p.productType,
		"folderId":    folderID,
	}
	p.createBodyExtras(output)
	return output, nil
}
